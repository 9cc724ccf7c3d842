package ports

import (
	"context"

	"github.com/aretw0/stepwise/pkg/domain"
)

// ProgressReader is the read side of the progress store.
type ProgressReader interface {
	// ReadProgress returns the authoritative record for an identity.
	// Returns domain.ErrConversationNotFound if none exists.
	ReadProgress(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error)
}

// ProgressStore defines the durable record of conversation progress.
// ConditionalAdvance is the single serialization point for step advancement.
type ProgressStore interface {
	ProgressReader

	// Create starts a new conversation instance, replacing any previous record for the identity.
	Create(ctx context.Context, record *domain.ConversationRecord) error

	// ConditionalAdvance increments the step by one and persists the answer, only if
	// the stored step equals adv.FromStep, the record is not terminal, adv.EventID
	// was not the last committed event, and any non-empty adv.InstanceID and
	// adv.FromState match the stored record. A failed precondition yields Success=false.
	ConditionalAdvance(ctx context.Context, id domain.Identity, adv domain.Advance) (domain.AdvanceResult, error)

	// Transition moves the record to another state if its state still equals t.FromState.
	// It reports whether the transition was applied.
	Transition(ctx context.Context, id domain.Identity, t domain.Transition) (bool, error)

	// SetStatus overwrites the status unconditionally (administrative use).
	SetStatus(ctx context.Context, id domain.Identity, status domain.Status) error

	// Delete removes the record for an identity.
	Delete(ctx context.Context, id domain.Identity) error

	// List returns the identities with a stored record.
	List(ctx context.Context) ([]domain.Identity, error)
}
