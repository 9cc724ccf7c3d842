package memory

import (
	"context"
	"sync"

	"github.com/aretw0/stepwise/pkg/domain"
)

// Recorder implements ports.TurnRecorder in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.TurnEvent
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends the event.
func (r *Recorder) Record(ctx context.Context, event domain.TurnEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.TurnEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TurnEvent(nil), r.events...)
}
