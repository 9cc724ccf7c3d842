package http

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/stepwise/pkg/domain"
)

// DefaultMaxInputSize caps the text of one inbound message, in bytes.
const DefaultMaxInputSize = 4096

// maxControlIDSize caps a button or list reply id.
const maxControlIDSize = 128

var (
	ErrInputTooLarge = errors.New("message text too large")
	ErrInvalidUTF8   = errors.New("message text is not valid UTF-8")
	ErrBadControlID  = errors.New("malformed control id")
)

// sanitizeEvent checks one parsed webhook event before it reaches the engine.
// Message text over limit is rejected rather than cut, so a truncated answer
// is never committed. Control characters are dropped from the text, except
// line breaks and tabs, which users type in free-text comments.
// Control ids come from our own prompts and must be short printable ASCII.
func sanitizeEvent(ev domain.Event, limit int) (domain.Event, error) {
	if limit <= 0 {
		limit = DefaultMaxInputSize
	}
	if ev.ControlID != "" {
		if len(ev.ControlID) > maxControlIDSize || strings.IndexFunc(ev.ControlID, notPrintableASCII) >= 0 {
			return ev, fmt.Errorf("%w: %q", ErrBadControlID, ev.ControlID)
		}
	}
	if ev.Text == "" {
		return ev, nil
	}
	if len(ev.Text) > limit {
		return ev, fmt.Errorf("%w: %d bytes, limit %d", ErrInputTooLarge, len(ev.Text), limit)
	}
	if !utf8.ValidString(ev.Text) {
		return ev, ErrInvalidUTF8
	}
	ev.Text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, strings.ReplaceAll(ev.Text, "\r\n", "\n"))
	return ev, nil
}

func notPrintableASCII(r rune) bool {
	return r <= ' ' || r > '~'
}
