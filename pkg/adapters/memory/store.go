package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
)

// Store implements ports.ProgressStore in memory.
// Safe for concurrent use; the mutex plays the role of the database's row lock.
type Store struct {
	data  map[domain.Identity]*domain.ConversationRecord
	mu    sync.RWMutex
	delay time.Duration
}

// StoreOption configures the in-memory store.
type StoreOption func(*Store)

// WithLatency simulates I/O latency on every call, outside the critical section.
// Useful to widen race windows in tests.
func WithLatency(d time.Duration) StoreOption {
	return func(s *Store) {
		s.delay = d
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		data: make(map[domain.Identity]*domain.ConversationRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
		return nil
	}
}

// Create stores a copy of the record, replacing any previous instance.
func (s *Store) Create(ctx context.Context, record *domain.ConversationRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	copied := record.Clone()
	copied.LastEventID = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[record.Identity] = copied
	return nil
}

// ReadProgress returns a copy so the caller can't mutate store state directly by pointer.
func (s *Store) ReadProgress(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return rec.Clone(), nil
}

// ConditionalAdvance applies the advance under the write lock if the precondition holds.
func (s *Store) ConditionalAdvance(ctx context.Context, id domain.Identity, adv domain.Advance) (domain.AdvanceResult, error) {
	if err := s.wait(ctx); err != nil {
		return domain.AdvanceResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return domain.AdvanceResult{}, domain.ErrConversationNotFound
	}
	if rec.Status.Terminal() || rec.CurrentStep != adv.FromStep || rec.CurrentStep >= rec.TotalSteps {
		return domain.AdvanceResult{}, nil
	}
	if adv.EventID != "" && rec.LastEventID == adv.EventID {
		return domain.AdvanceResult{}, nil
	}
	if (adv.InstanceID != "" && rec.InstanceID != adv.InstanceID) || (adv.FromState != "" && rec.State != adv.FromState) {
		return domain.AdvanceResult{}, nil
	}

	rec.CurrentStep++
	if rec.Answers == nil {
		rec.Answers = make(map[int]string)
	}
	rec.Answers[rec.CurrentStep] = adv.Answer
	rec.State = adv.ToState
	rec.Status = adv.ToStatus
	rec.LastEventID = adv.EventID
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()

	return domain.AdvanceResult{Success: true, NewStep: rec.CurrentStep}, nil
}

// Transition applies t if the stored state still equals t.FromState.
func (s *Store) Transition(ctx context.Context, id domain.Identity, t domain.Transition) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return false, domain.ErrConversationNotFound
	}
	if rec.Status.Terminal() || rec.State != t.FromState {
		return false, nil
	}
	rec.State = t.ToState
	rec.Status = t.Status
	if t.EventID != "" {
		rec.LastEventID = t.EventID
	}
	if t.SetPayload {
		rec.Payload = append([]byte(nil), t.Payload...)
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

// SetStatus overwrites the status.
func (s *Store) SetStatus(ctx context.Context, id domain.Identity, status domain.Status) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return domain.ErrConversationNotFound
	}
	rec.Status = status
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// List returns stored identities in lexical order.
func (s *Store) List(ctx context.Context) ([]domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.Identity, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
