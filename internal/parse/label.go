package parse

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	prefixRe = regexp.MustCompile(`(?i)^(?:incubator\b|inc\.|inc\b)\s*[:#]?\s*`)
)

// MaxLabelLen bounds a stored incubator label, in bytes.
const MaxLabelLen = 64

// IncubatorLabel normalizes a free-form incubator label typed by a user.
// Surrounding whitespace is trimmed, inner runs of whitespace collapse to a
// single space, a leading "Incubator"/"Inc." word and "#" markers are removed.
// A nil or empty result means no incubator.
func IncubatorLabel(raw *string) *string {
	if raw == nil {
		return nil
	}

	s := strings.TrimSpace(spaceRe.ReplaceAllString(*raw, " "))
	s = prefixRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(strings.TrimLeft(s, "#"))

	if s == "" {
		return nil
	}
	if len(s) > MaxLabelLen {
		s = strings.TrimSpace(truncate(s, MaxLabelLen))
	}
	return &s
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Label is IncubatorLabel for a plain string.
func Label(raw string) *string {
	return IncubatorLabel(&raw)
}
