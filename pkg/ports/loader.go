package ports

import (
	"context"

	"github.com/aretw0/stepwise/pkg/domain"
)

// StepSource provides the ordered step definitions of a conversation type.
// Definitions change far less often than progress and are cached with a longer TTL.
type StepSource interface {
	ListSteps(ctx context.Context, conversationType string) ([]domain.Step, error)
}

// Directory resolves ticket or document codes for lookup conversations.
// Returns domain.ErrDocumentNotFound when the code is unknown.
type Directory interface {
	Find(ctx context.Context, code string) (domain.Document, error)
}
