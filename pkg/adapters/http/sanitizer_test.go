package http

import (
	"strings"
	"testing"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeEvent_TextLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		limit   int
		wantErr bool
	}{
		{"Under Default", DefaultMaxInputSize - 1, 0, false},
		{"At Default", DefaultMaxInputSize, 0, false},
		{"Over Default", DefaultMaxInputSize + 1, 0, true},
		{"Over Custom", 11, 10, true},
		{"Under Custom", 5, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := domain.Event{ID: "wamid.1", Text: strings.Repeat("a", tt.size)}
			got, err := sanitizeEvent(ev, tt.limit)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInputTooLarge)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ev.Text, got.Text, "accepted text is never cut")
		})
	}
}

func TestSanitizeEvent_Text(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain Answer", "Nota 5, obrigado!", "Nota 5, obrigado!"},
		{"Multiline Comment", "Good service.\r\nFast reply.\tThanks", "Good service.\nFast reply.\tThanks"},
		{"Terminal Escape", "\x1b[31m4\x1b[0m", "[31m4[0m"},
		{"Null Byte", "ana\x00@example.com", "ana@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizeEvent(domain.Event{Text: tt.input}, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Text)
		})
	}
}

func TestSanitizeEvent_InvalidUTF8(t *testing.T) {
	_, err := sanitizeEvent(domain.Event{Text: "\xbd\xb2\x3d\xbc\x20\xe2\x8c\x98"}, 0)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestSanitizeEvent_ControlID(t *testing.T) {
	got, err := sanitizeEvent(domain.Event{ControlID: "rate:2:5"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "rate:2:5", got.ControlID)

	for _, id := range []string{"rate:2:5 ", "invite:\x00accept", "avaliação", strings.Repeat("x", maxControlIDSize+1)} {
		_, err := sanitizeEvent(domain.Event{ControlID: id}, 0)
		assert.ErrorIs(t, err, ErrBadControlID, "control id %q", id)
	}
}
