// Package cache keeps a short-lived, process-local view of conversation progress.
//
// The cache is a hint. Every decision that mutates progress is verified against
// the progress store, and entries are refreshed only after a durable commit.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/stepwise/internal/logging"
	"github.com/aretw0/stepwise/internal/retry"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a progress entry stays valid without a touch.
const DefaultTTL = 5 * time.Minute

// Entry is a snapshot of one conversation. Values returned by the cache are
// copies; mutating them does not affect the cache.
type Entry struct {
	Record   *domain.ConversationRecord
	Steps    []domain.Step
	StoredAt time.Time
}

// NextStep is the step the next answer must target.
func (e Entry) NextStep() int {
	return e.Record.CurrentStep + 1
}

// StepAt returns the metadata of a 1-based step.
func (e Entry) StepAt(step int) (domain.Step, bool) {
	if step < 1 || step > len(e.Steps) {
		return domain.Step{}, false
	}
	return e.Steps[step-1], true
}

func (e Entry) clone() Entry {
	return Entry{
		Record:   e.Record.Clone(),
		Steps:    append([]domain.Step(nil), e.Steps...),
		StoredAt: e.StoredAt,
	}
}

// Cache is the TTL progress cache.
type Cache struct {
	mu      sync.Mutex
	entries map[domain.Identity]Entry

	ttl    time.Duration
	now    func() time.Time
	store  ports.ProgressReader
	steps  *Catalog
	policy retry.Policy
	group  singleflight.Group
	logger *slog.Logger
	hooks  domain.Hooks
}

// Option configures the cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithHooks registers observability callbacks (OnCache).
func WithHooks(hooks domain.Hooks) Option {
	return func(c *Cache) {
		c.hooks = hooks
	}
}

// WithRetry sets the retry policy for store reads on a miss.
func WithRetry(p retry.Policy) Option {
	return func(c *Cache) {
		c.policy = p
	}
}

// New creates a cache that fills misses from store, with step metadata from steps.
func New(store ports.ProgressReader, steps *Catalog, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[domain.Identity]Entry),
		ttl:     DefaultTTL,
		now:     time.Now,
		store:   store,
		steps:   steps,
		policy:  retry.Default(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) expired(e Entry, now time.Time) bool {
	return now.Sub(e.StoredAt) >= c.ttl
}

// Get returns the entry for id. It is absent if missing or expired.
func (c *Cache) Get(id domain.Identity) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, id)
		return Entry{}, false
	}
	return e.clone(), true
}

// Set stores a copy of the record and its steps with StoredAt = now.
func (c *Cache) Set(record *domain.ConversationRecord, steps []domain.Step) {
	e := Entry{Record: record, Steps: steps}.clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	e.StoredAt = c.now()
	c.entries[record.Identity] = e
}

// Touch moves the entry to a committed step and refreshes StoredAt.
// A non-empty eventID is recorded as the last committed event.
// It reports false when there is no live entry to touch.
func (c *Cache) Touch(id domain.Identity, step int, state string, status domain.Status, eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	now := c.now()
	if !ok || c.expired(e, now) {
		delete(c.entries, id)
		return false
	}
	// Never move backwards: a late touch from a slower turn must not undo a newer one.
	if step >= e.Record.CurrentStep {
		e.Record.CurrentStep = step
		e.Record.State = state
		e.Record.Status = status
		if eventID != "" {
			e.Record.LastEventID = eventID
		}
	}
	e.StoredAt = now
	c.entries[id] = e
	return true
}

// Invalidate removes the entry for id.
func (c *Cache) Invalidate(id domain.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("cache sweep", "removed", n, "remaining", c.Len())
			}
		}
	}
}

// Fetch returns the entry for id, reading through to the store on a miss.
// Concurrent misses for the same identity share one store read.
func (c *Cache) Fetch(ctx context.Context, id domain.Identity) (Entry, error) {
	if e, ok := c.Get(id); ok {
		c.emit(ctx, id, true)
		return e, nil
	}
	c.emit(ctx, id, false)

	v, err, _ := c.group.Do(string(id), func() (any, error) {
		// Another caller may have filled it while we waited for the group.
		if e, ok := c.Get(id); ok {
			return e, nil
		}
		rec, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*domain.ConversationRecord, error) {
			return c.store.ReadProgress(ctx, id)
		})
		if err != nil {
			return Entry{}, err
		}
		steps, err := c.steps.Steps(ctx, rec.ConversationType)
		if err != nil {
			return Entry{}, err
		}
		c.Set(rec, steps)
		c.logger.Debug("cache filled", "identity", id, "step", rec.CurrentStep, "state", rec.State)
		return Entry{Record: rec, Steps: steps}, nil
	})
	if err != nil {
		return Entry{}, err
	}
	// Shared results must not alias between callers.
	return v.(Entry).clone(), nil
}

func (c *Cache) emit(ctx context.Context, id domain.Identity, hit bool) {
	if c.hooks.OnCache != nil {
		c.hooks.OnCache(ctx, &domain.CacheEvent{Identity: id, Hit: hit})
	}
}
