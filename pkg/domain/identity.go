package domain

import (
	"strings"
	"unicode"
)

// Identity is the opaque, stable key of a conversation (e.g. a phone number).
// It is the sole partition key for cache and progress lookups.
type Identity string

// Normalize turns a raw channel sender into an Identity.
// Formatting characters are dropped and international prefixes ("+", "00") are removed,
// so "+55 (11) 9999-0000" and "5511999990000" map to the same conversation.
func Normalize(raw string) Identity {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "+")

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r), unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '@' || r == '.' || r == '_':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "00") && len(out) > 2 && isDigits(out) {
		out = out[2:]
	}
	return Identity(out)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func (id Identity) String() string {
	return string(id)
}
