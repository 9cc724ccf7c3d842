package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/stepwise/internal/cache"
	"github.com/aretw0/stepwise/internal/logging"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/google/uuid"
)

// Prompter sends the pending prompt of a conversation.
type Prompter interface {
	Prompt(ctx context.Context, id domain.Identity) error
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates conversation lifecycle operations.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store    ports.ProgressStore
	cache    *cache.Cache
	steps    *cache.Catalog
	registry *registry.Registry
	prompter Prompter
	logger   *slog.Logger
	newID    func() string

	mu    sync.Mutex
	locks map[domain.Identity]*lockEntry
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithPrompter sends the first prompt after Start.
func WithPrompter(p Prompter) Option {
	return func(m *Manager) {
		m.prompter = p
	}
}

// WithIDGenerator replaces the instance id generator (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// NewManager creates a lifecycle manager.
func NewManager(store ports.ProgressStore, c *cache.Cache, steps *cache.Catalog, reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		cache:    c,
		steps:    steps,
		registry: reg,
		logger:   logging.NewNop(),
		newID:    uuid.NewString,
		locks:    make(map[domain.Identity]*lockEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartRequest describes a new conversation instance.
type StartRequest struct {
	// Identity is normalized before use.
	Identity string `json:"identity"`
	Type     string `json:"type"`

	// Silent skips the first prompt.
	Silent bool `json:"silent,omitempty"`
}

// ErrIdentityRequired is returned when a request carries no usable identity.
var ErrIdentityRequired = errors.New("identity is required")

// Start creates a new instance, replacing any previous one for the identity.
// The record is returned even when the first prompt could not be delivered.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*domain.ConversationRecord, error) {
	id := domain.Normalize(req.Identity)
	if id == "" {
		return nil, ErrIdentityRequired
	}
	def, err := m.registry.Lookup(req.Type)
	if err != nil {
		return nil, err
	}
	steps, err := m.steps.Steps(ctx, def.Type)
	if err != nil {
		return nil, fmt.Errorf("steps for %s: %w", def.Type, err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("conversation type %s has no steps", def.Type)
	}

	var rec *domain.ConversationRecord
	err = m.withLock(id, func() error {
		rec = domain.NewRecord(id, m.newID(), def.Type, def.InitialState(), len(steps), def.AllowsFinalFreeText)
		if err := m.store.Create(ctx, rec); err != nil {
			return domain.Unavailable("create conversation", err)
		}
		m.cache.Set(rec, steps)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "conversation started",
		"identity", id, "type", def.Type, "instance_id", rec.InstanceID, "total_steps", rec.TotalSteps)

	if m.prompter != nil && !req.Silent {
		if err := m.prompter.Prompt(ctx, id); err != nil {
			return rec, fmt.Errorf("first prompt: %w", err)
		}
	}
	return rec, nil
}

// Abandon marks the conversation ABANDONED and drops its cache entry.
func (m *Manager) Abandon(ctx context.Context, id domain.Identity) error {
	return m.withLock(id, func() error {
		defer m.cache.Invalidate(id)
		if err := m.store.SetStatus(ctx, id, domain.StatusAbandoned); err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "conversation abandoned", "identity", id)
		return nil
	})
}

// Inspect returns the authoritative record from the store.
func (m *Manager) Inspect(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error) {
	return m.store.ReadProgress(ctx, id)
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]domain.Identity, error) {
	return m.store.List(ctx)
}

// Delete removes the record and its cache entry.
func (m *Manager) Delete(ctx context.Context, id domain.Identity) error {
	return m.withLock(id, func() error {
		defer m.cache.Invalidate(id)
		return m.store.Delete(ctx, id)
	})
}

// Store returns the underlying progress store.
func (m *Manager) Store() ports.ProgressStore {
	return m.store
}

// acquire gets or creates a lock entry and increments its reference count.
func (m *Manager) acquire(id domain.Identity) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[id]
	if !ok {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(id domain.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

func (m *Manager) withLock(id domain.Identity, fn func() error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()
	return fn()
}
