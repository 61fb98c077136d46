package entity

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const illegalPathChars = `:/\*?"<>|`

// SanitizeType turns an entity type into a single safe path segment.
// Alerting:Profile becomes Alerting_Profile.
func SanitizeType(t string) string {
	// NFC normalize so visually equal types share one file
	t = norm.NFC.String(strings.TrimSpace(t))

	s := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.IsSpace(r) || strings.ContainsRune(illegalPathChars, r) {
			return '_'
		}
		return r
	}, t)

	switch s {
	case "", ".", "..":
		return strings.Repeat("_", max(len(s), 1))
	}
	return s
}

// SanitizeID makes an entity id usable as one directory name. Only path
// separators, control characters and dot segments are replaced; ids are
// otherwise kept as the platform reports them.
func SanitizeID(id string) string {
	s := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, id)

	switch s {
	case "", ".", "..":
		return strings.Repeat("_", max(len(s), 1))
	}
	return s
}
