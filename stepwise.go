package stepwise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/stepwise/internal/cache"
	"github.com/aretw0/stepwise/internal/logging"
	"github.com/aretw0/stepwise/internal/runtime"
	"github.com/aretw0/stepwise/pkg/adapters/memory"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/aretw0/stepwise/pkg/session"
)

// DefaultSweepInterval is how often Run evicts expired cache entries.
const DefaultSweepInterval = time.Minute

// Engine is the high-level entry point of the library.
// It wires the cache, the advancement protocol, the dispatcher and the
// session manager around the injected adapters.
type Engine struct {
	runtime  *runtime.Engine
	cache    *cache.Cache
	catalog  *cache.Catalog
	sessions *session.Manager
	logger   *slog.Logger

	store     ports.ProgressStore
	channel   ports.Channel
	steps     ports.StepSource
	directory ports.Directory
	recorder  ports.TurnRecorder
	registry  *registry.Registry
	hooks     domain.Hooks

	cacheTTL      time.Duration
	metadataTTL   time.Duration
	sweepInterval time.Duration
	runtimeOpts   []runtime.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the progress store (in-memory by default).
func WithStore(s ports.ProgressStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithChannel sets the outbound channel. Required.
func WithChannel(c ports.Channel) Option {
	return func(e *Engine) {
		e.channel = c
	}
}

// WithSteps sets the step metadata source. Required.
func WithSteps(s ports.StepSource) Option {
	return func(e *Engine) {
		e.steps = s
	}
}

// WithDirectory sets the document directory used by lookup conversations.
func WithDirectory(d ports.Directory) Option {
	return func(e *Engine) {
		e.directory = d
	}
}

// WithTurnRecorder persists a summary of every turn.
func WithTurnRecorder(r ports.TurnRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithRegistry replaces the built-in conversation types.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.Hooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithCacheTTL sets the progress cache TTL.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = d
	}
}

// WithMetadataTTL sets the step metadata TTL. It should exceed the cache TTL.
func WithMetadataTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.metadataTTL = d
	}
}

// WithSweepInterval sets how often Run evicts expired cache entries.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.sweepInterval = d
	}
}

// WithTimeouts sets the per-turn budget and the per-call timeout.
func WithTimeouts(turn, call time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithTurnTimeout(turn), runtime.WithCallTimeout(call))
	}
}

// New initializes an Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cacheTTL:      cache.DefaultTTL,
		metadataTTL:   cache.DefaultCatalogTTL,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.channel == nil {
		return nil, errors.New("stepwise: a channel is required")
	}
	if e.steps == nil {
		return nil, errors.New("stepwise: a step source is required")
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.registry == nil {
		e.registry = registry.Builtin()
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.metadataTTL < e.cacheTTL {
		return nil, fmt.Errorf("stepwise: metadata ttl %s is shorter than cache ttl %s", e.metadataTTL, e.cacheTTL)
	}

	catalog, err := cache.NewCatalog(e.steps, cache.WithCatalogTTL(e.metadataTTL))
	if err != nil {
		return nil, fmt.Errorf("stepwise: %w", err)
	}
	e.catalog = catalog
	e.cache = cache.New(e.store, catalog,
		cache.WithTTL(e.cacheTTL),
		cache.WithLogger(e.logger),
		cache.WithHooks(e.hooks),
	)

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(e.logger),
		runtime.WithHooks(e.hooks),
	}
	if e.directory != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithDirectory(e.directory))
	}
	if e.recorder != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithTurnRecorder(e.recorder))
	}
	runtimeOpts = append(runtimeOpts, e.runtimeOpts...)
	e.runtime = runtime.NewEngine(e.store, e.cache, e.registry, e.channel, runtimeOpts...)

	e.sessions = session.NewManager(e.store, e.cache, catalog, e.registry,
		session.WithLogger(e.logger),
		session.WithPrompter(e.runtime),
	)
	return e, nil
}

// Dispatch processes one inbound event.
func (e *Engine) Dispatch(ctx context.Context, ev domain.Event) (domain.Outcome, error) {
	return e.runtime.Dispatch(ctx, ev)
}

// Prompt resends the pending prompt of a conversation.
func (e *Engine) Prompt(ctx context.Context, id domain.Identity) error {
	return e.runtime.Prompt(ctx, id)
}

// Start begins a new conversation instance and sends its first prompt.
func (e *Engine) Start(ctx context.Context, req session.StartRequest) (*domain.ConversationRecord, error) {
	return e.sessions.Start(ctx, req)
}

// Sessions exposes the lifecycle manager (abandon, inspect, list, delete).
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Registry returns the conversation type registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// InvalidateSteps drops cached step metadata, e.g. after a catalog reload.
func (e *Engine) InvalidateSteps() {
	e.catalog.Purge()
}

// Run sweeps expired cache entries until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	e.cache.Run(ctx, e.sweepInterval)
}

// Close waits for detached background work (turn telemetry) to finish.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Wait(ctx)
}
