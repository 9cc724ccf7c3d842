package ports

import (
	"context"

	"github.com/aretw0/stepwise/pkg/domain"
)

// Channel delivers messages back to the user.
type Channel interface {
	SendText(ctx context.Context, id domain.Identity, text string) error

	// SendChoice sends an interactive prompt. len(choices) must not exceed domain.MaxChoices.
	SendChoice(ctx context.Context, id domain.Identity, title, body string, choices []domain.Choice) error
}

// TurnRecorder persists turn telemetry. Writes are best effort and never fail a turn.
type TurnRecorder interface {
	Record(ctx context.Context, event domain.TurnEvent) error
}
