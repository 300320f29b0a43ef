package model

import (
	"strings"

	"golang.org/x/text/language"
)

const localeSep = ","

// NormalizeLocales canonicalizes BCP 47 tags, dropping invalid ones and
// duplicates while keeping the caller's order of preference.
func NormalizeLocales(tags []string) []string {
	valid, _ := SplitLocales(tags)
	return valid
}

// SplitLocales canonicalizes tags like NormalizeLocales and also returns the
// non-blank inputs that did not parse.
func SplitLocales(tags []string) (valid, invalid []string) {
	valid = make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		tag, err := language.Parse(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		s := tag.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		valid = append(valid, s)
	}
	return valid, invalid
}

// EncodeLocales joins canonical tags into the stored string form.
func EncodeLocales(tags []string) string {
	return strings.Join(NormalizeLocales(tags), localeSep)
}

// ParseLocales is the inverse of EncodeLocales.
func ParseLocales(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return NormalizeLocales(strings.Split(s, localeSep))
}
