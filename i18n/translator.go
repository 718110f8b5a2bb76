// Package i18n resolves (message key, locale, parameters) to final text.
// Catalogs are YAML maps from key to template; "{name}" placeholders are
// substituted from the parameter map.
package i18n

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

const fallbackLocale = "en"

type Translator struct {
	catalogs map[string]map[string]string
}

// New loads the embedded catalogs. The file name without extension is the
// locale code.
func New() (*Translator, error) {
	t := &Translator{catalogs: make(map[string]map[string]string)}

	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded locales: %w", err)
	}
	for _, entry := range entries {
		data, err := locales.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("error reading catalog %s: %w", entry.Name(), err)
		}
		locale := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if err := t.merge(locale, data); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LoadFile merges an external catalog over the embedded one, so deployments
// can override or add locales without rebuilding.
func (t *Translator) LoadFile(locale, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading catalog file: %w", err)
	}
	return t.merge(locale, data)
}

func (t *Translator) merge(locale string, data []byte) error {
	var catalog map[string]string
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("error parsing catalog for locale %s: %w", locale, err)
	}
	existing, ok := t.catalogs[locale]
	if !ok {
		existing = make(map[string]string, len(catalog))
		t.catalogs[locale] = existing
	}
	for key, text := range catalog {
		existing[key] = text
	}
	return nil
}

// Text resolves key for the given locale, falling back to English and
// finally to the key itself so a missing entry never drops a message.
func (t *Translator) Text(locale, key string, params map[string]string) string {
	template, ok := t.lookup(locale, key)
	if !ok {
		return key
	}
	for name, value := range params {
		template = strings.ReplaceAll(template, "{"+name+"}", value)
	}
	return template
}

func (t *Translator) lookup(locale, key string) (string, bool) {
	if catalog, ok := t.catalogs[locale]; ok {
		if text, ok := catalog[key]; ok {
			return text, true
		}
	}
	if locale != fallbackLocale {
		if catalog, ok := t.catalogs[fallbackLocale]; ok {
			if text, ok := catalog[key]; ok {
				return text, true
			}
		}
	}
	return "", false
}
