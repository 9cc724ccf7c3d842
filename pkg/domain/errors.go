package domain

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound is returned when no record exists for an identity.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrDocumentNotFound is returned when a lookup code matches no document.
var ErrDocumentNotFound = errors.New("document not found")

// ErrStaleOrDuplicate marks an answer whose expected step no longer matches the store.
var ErrStaleOrDuplicate = errors.New("stale or duplicate answer")

// ErrLostRace marks an answer whose conditional commit lost to a concurrent request.
var ErrLostRace = errors.New("conditional commit lost race")

// ErrCollaboratorUnavailable wraps failures of the store, channel or other collaborators.
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// ErrTooManyChoices is returned when a prompt exceeds the channel's interactive limit.
var ErrTooManyChoices = errors.New("too many choices for one prompt")

// ErrUnknownConversationType is returned when no definition exists for a conversation type.
var ErrUnknownConversationType = errors.New("unknown conversation type")

// ErrValidation is the category matched by every ValidationError.
var ErrValidation = errors.New("validation failure")

// ValidationError describes a malformed or out-of-range answer.
// It never carries a state change: the user is re-prompted and may retry safely.
type ValidationError struct {
	Step   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("invalid answer for step %d: %s", e.Step, e.Reason)
	}
	return fmt.Sprintf("invalid answer: %s", e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(step int, format string, args ...any) error {
	return &ValidationError{Step: step, Reason: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a collaborator failure so it matches ErrCollaboratorUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCollaboratorUnavailable, err)
}
