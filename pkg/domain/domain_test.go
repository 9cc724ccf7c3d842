package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want Identity
	}{
		{"+55 (11) 9999-0000", "551199990000"},
		{"551199990000", "551199990000"},
		{"0044 20 7946 0000", "442079460000"},
		{"  Ana@Example.com ", "ana@example.com"},
		{"00", "00"},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestRecord_Validate(t *testing.T) {
	rec := NewRecord("5511", "i-1", "survey", StateInvite, 3, true)
	require.NoError(t, rec.Validate())
	assert.Equal(t, StatusActive, rec.Status)
	assert.Zero(t, rec.CurrentStep)

	bad := rec.Clone()
	bad.Identity = ""
	assert.Error(t, bad.Validate())

	bad = rec.Clone()
	bad.TotalSteps = 0
	assert.Error(t, bad.Validate())

	bad = rec.Clone()
	bad.CurrentStep = 4
	assert.Error(t, bad.Validate())
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := NewRecord("5511", "i-1", "survey", StateQuestion, 3, true)
	rec.Answers[1] = "5"
	rec.Payload = []byte{1, 2}

	c := rec.Clone()
	c.Answers[1] = "1"
	c.Payload[0] = 9

	assert.Equal(t, "5", rec.Answers[1])
	assert.Equal(t, byte(1), rec.Payload[0])
	assert.Nil(t, (*ConversationRecord)(nil).Clone())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusAwaitingInput.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusAbandoned.Terminal())
}

func TestErrors(t *testing.T) {
	err := Invalid(2, "not in %d..%d", 1, 5)
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "invalid answer for step 2: not in 1..5")

	cause := errors.New("timeout")
	err = Unavailable("read progress", cause)
	assert.ErrorIs(t, err, ErrCollaboratorUnavailable)
	assert.ErrorIs(t, err, cause)
}
