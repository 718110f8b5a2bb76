package model

import "time"

// AnonymousName replaces a user's name in payloads where an anonymity
// preference applies.
const AnonymousName = "Anonymous"

type User struct {
	ID     string `firestore:"id"`
	ChatID int64  `firestore:"chatID"`
	Name   string `firestore:"name"`
	Locale string `firestore:"locale"`

	// DomainInterests holds per-domain interest weights in [0,1], used by
	// the matching engine's similarity metric.
	DomainInterests map[Domain]float64 `firestore:"domainInterests"`
	// SocialTies maps other user ids to a closeness value in [0,1].
	SocialTies map[string]float64 `firestore:"socialTies"`
	// Zone is a coarse location label used for proximity matching.
	Zone string `firestore:"zone"`

	CreatedAt time.Time `firestore:"createdAt"`
}

// DisplayName returns the name to show to another user, honouring the
// given anonymity flag.
func (u *User) DisplayName(anonymous bool) string {
	if anonymous || u.Name == "" {
		return AnonymousName
	}
	return u.Name
}
