package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/stepwise/internal/cache"
	"github.com/aretw0/stepwise/internal/logging"
	"github.com/aretw0/stepwise/internal/retry"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/aretw0/stepwise/pkg/registry"
)

// Default time budgets.
const (
	DefaultTurnTimeout = 10 * time.Second
	DefaultCallTimeout = 3 * time.Second
	DefaultTaskTimeout = 5 * time.Second
)

// Engine dispatches inbound events to step handlers.
type Engine struct {
	store     ports.ProgressStore
	cache     *cache.Cache
	registry  *registry.Registry
	channel   ports.Channel
	directory ports.Directory
	recorder  ports.TurnRecorder
	advancer  *Advancer
	tasks     *Tasks
	logger    *slog.Logger
	hooks     domain.Hooks
	texts     Texts

	turnTimeout time.Duration
	callTimeout time.Duration
	taskTimeout time.Duration
	policy      retry.Policy
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHooks registers observability callbacks.
func WithHooks(hooks domain.Hooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithDirectory sets the document directory used by lookup steps.
func WithDirectory(d ports.Directory) Option {
	return func(e *Engine) {
		e.directory = d
	}
}

// WithTurnRecorder sets the telemetry sink for turn summaries.
func WithTurnRecorder(r ports.TurnRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithTurnTimeout bounds the processing of one inbound event.
func WithTurnTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.turnTimeout = d
		}
	}
}

// WithCallTimeout bounds each outbound collaborator call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithTaskTimeout bounds each detached task.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.taskTimeout = d
		}
	}
}

// WithRetry sets the retry policy for idempotent reads and telemetry writes.
func WithRetry(p retry.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithTexts replaces the built-in copy.
func WithTexts(t Texts) Option {
	return func(e *Engine) {
		e.texts = t
	}
}

// NewEngine creates a new engine with dependencies.
func NewEngine(store ports.ProgressStore, c *cache.Cache, reg *registry.Registry, channel ports.Channel, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		cache:       c,
		registry:    reg,
		channel:     channel,
		logger:      logging.NewNop(),
		texts:       DefaultTexts(),
		turnTimeout: DefaultTurnTimeout,
		callTimeout: DefaultCallTimeout,
		taskTimeout: DefaultTaskTimeout,
		policy:      retry.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.advancer = NewAdvancer(store, c, reg)
	e.advancer.logger = e.logger
	e.advancer.hooks = e.hooks
	e.advancer.policy = e.policy
	e.advancer.callTimeout = e.callTimeout
	e.tasks = newTasks(e.logger, e.taskTimeout)
	return e
}

// Advancer exposes the advancement protocol.
func (e *Engine) Advancer() *Advancer {
	return e.advancer
}

// Wait drains detached tasks.
func (e *Engine) Wait(ctx context.Context) error {
	return e.tasks.Wait(ctx)
}

// Dispatch handles one inbound event. The returned error is informational:
// the user has already been answered (or deliberately ignored) when it returns.
func (e *Engine) Dispatch(ctx context.Context, ev domain.Event) (domain.Outcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	ev.Identity = domain.Normalize(string(ev.Identity))
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = start.UTC()
	}
	log := e.logger.With("identity", ev.Identity, "event_id", ev.ID)

	turn := &domain.TurnEvent{
		Timestamp: ev.ReceivedAt,
		Identity:  ev.Identity,
		EventID:   ev.ID,
		Handler:   registry.KindNotUnderstood.String(),
	}

	outcome, err := e.dispatch(ctx, ev, turn, log)
	if err != nil {
		log.ErrorContext(ctx, "turn failed", "state", turn.State, "handler", turn.Handler, "error", err)
		e.apologize(ctx, ev.Identity, log)
		outcome = domain.OutcomeFailed
	}

	turn.Outcome = outcome
	turn.Duration = time.Since(start)
	e.emit(ctx, turn)
	return outcome, err
}

func (e *Engine) dispatch(ctx context.Context, ev domain.Event, turn *domain.TurnEvent, log *slog.Logger) (domain.Outcome, error) {
	entry, err := e.cache.Fetch(ctx, ev.Identity)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return e.replyOutside(ctx, ev.Identity, e.texts.Help, log)
	}
	if err != nil {
		return domain.OutcomeFailed, domain.Unavailable("load conversation", err)
	}
	rec := entry.Record
	turn.State = rec.State

	if ev.ID != "" && ev.ID == rec.LastEventID {
		log.DebugContext(ctx, "event already committed")
		return domain.OutcomeDuplicate, nil
	}
	if rec.Status.Terminal() {
		// Late clicks on a finished conversation are redeliveries; stay silent.
		if ev.ControlID != "" {
			return domain.OutcomeDuplicate, nil
		}
		return e.replyOutside(ctx, ev.Identity, e.texts.Finished, log)
	}

	def, err := e.registry.Lookup(rec.ConversationType)
	if err != nil {
		log.WarnContext(ctx, "conversation type not registered", "type", rec.ConversationType)
		return e.replyOutside(ctx, ev.Identity, e.texts.Help, log)
	}

	res := e.registry.Resolve(rec.ConversationType, rec.State, ev.ControlID)
	turn.Handler = res.Kind.String()

	tc := newContext(ctx, e, ev, entry, def, log.With("state", rec.State, "handler", turn.Handler))
	return e.run(tc, res)
}

// run invokes the handler selected for kind, turning panics into errors.
func (e *Engine) run(tc *Context, res registry.Resolution) (outcome domain.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = domain.OutcomeFailed, fmt.Errorf("%s handler panicked: %v", res.Kind, r)
		}
	}()

	switch res.Kind {
	case registry.KindInvite:
		return e.handleInvite(tc, res.Control)
	case registry.KindRating:
		return e.handleRating(tc, res.Control)
	case registry.KindField:
		return e.handleField(tc)
	case registry.KindComment:
		return e.handleComment(tc)
	case registry.KindLookup:
		return e.handleLookup(tc)
	default:
		return e.handleNotUnderstood(tc)
	}
}

// Prompt sends the pending prompt of a conversation again.
func (e *Engine) Prompt(ctx context.Context, id domain.Identity) error {
	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	entry, err := e.cache.Fetch(ctx, id)
	if err != nil {
		return err
	}
	def, err := e.registry.Lookup(entry.Record.ConversationType)
	if err != nil {
		return err
	}
	tc := newContext(ctx, e, domain.Event{Identity: id}, entry, def, e.logger.With("identity", id))
	return e.promptCurrent(tc)
}

func (e *Engine) replyOutside(ctx context.Context, id domain.Identity, text string, log *slog.Logger) (domain.Outcome, error) {
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	if err := e.channel.SendText(cctx, id, text); err != nil {
		return domain.OutcomeFailed, domain.Unavailable("send text", err)
	}
	log.DebugContext(ctx, "replied outside a conversation step")
	return domain.OutcomeReplied, nil
}

// apologize is best effort: the turn may already be out of budget.
func (e *Engine) apologize(ctx context.Context, id domain.Identity, log *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
	defer cancel()
	if err := e.channel.SendText(cctx, id, e.texts.Apology); err != nil {
		log.WarnContext(ctx, "apology not delivered", "error", err)
	}
}

func (e *Engine) emit(ctx context.Context, turn *domain.TurnEvent) {
	if e.hooks.OnTurn != nil {
		e.hooks.OnTurn(ctx, turn)
	}
	if e.recorder == nil {
		return
	}
	snapshot := *turn
	e.tasks.Go(ctx, "record-turn", func(ctx context.Context) error {
		_, err := retry.Do(ctx, e.policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.recorder.Record(ctx, snapshot)
		})
		return err
	})
}
