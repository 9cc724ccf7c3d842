package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/stepwise/internal/retry"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

// Step metadata changes far less often than progress.
const (
	DefaultCatalogTTL  = time.Hour
	DefaultCatalogSize = 128
)

type catalogEntry struct {
	steps    []domain.Step
	storedAt time.Time
}

// Catalog caches step metadata per conversation type in a bounded LRU.
type Catalog struct {
	source ports.StepSource
	lru    *lru.Cache
	ttl    time.Duration
	size   int
	now    func() time.Time
	policy retry.Policy
	group  singleflight.Group
	mu     sync.Mutex
}

// CatalogOption configures the catalog cache.
type CatalogOption func(*Catalog)

// WithCatalogTTL sets how long step metadata is reused.
func WithCatalogTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCatalogSize bounds the number of cached conversation types.
func WithCatalogSize(n int) CatalogOption {
	return func(c *Catalog) {
		c.size = n
	}
}

// WithCatalogClock replaces time.Now.
func WithCatalogClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) {
		c.now = now
	}
}

// NewCatalog wraps source with a TTL-bounded LRU.
func NewCatalog(source ports.StepSource, opts ...CatalogOption) (*Catalog, error) {
	c := &Catalog{
		source: source,
		ttl:    DefaultCatalogTTL,
		size:   DefaultCatalogSize,
		now:    time.Now,
		policy: retry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	l, err := lru.New(c.size)
	if err != nil {
		return nil, fmt.Errorf("catalog cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Steps returns the steps of a conversation type, loading them on a miss.
func (c *Catalog) Steps(ctx context.Context, conversationType string) ([]domain.Step, error) {
	if steps, ok := c.get(conversationType); ok {
		return steps, nil
	}

	v, err, _ := c.group.Do(conversationType, func() (any, error) {
		steps, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]domain.Step, error) {
			return c.source.ListSteps(ctx, conversationType)
		})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.lru.Add(conversationType, catalogEntry{steps: steps, storedAt: c.now()})
		c.mu.Unlock()
		return steps, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Step(nil), v.([]domain.Step)...), nil
}

func (c *Catalog) get(conversationType string) ([]domain.Step, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(conversationType)
	if !ok {
		return nil, false
	}
	e := v.(catalogEntry)
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.lru.Remove(conversationType)
		return nil, false
	}
	return append([]domain.Step(nil), e.steps...), true
}

// Invalidate drops the cached steps of a conversation type.
func (c *Catalog) Invalidate(conversationType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(conversationType)
}

// Purge drops all cached step metadata.
func (c *Catalog) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
