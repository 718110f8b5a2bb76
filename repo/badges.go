package repo

import "fmt"

// BadgeURL builds the link to a user's badge board on the community hub.
// The badge service is only ever referenced through this opaque URL.
func BadgeURL(baseURL, appID string) string {
	return fmt.Sprintf("%s/badges?app_id=%s", baseURL, appID)
}
