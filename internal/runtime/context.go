package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/stepwise/internal/cache"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/payload"
	"github.com/aretw0/stepwise/pkg/registry"
)

// Context is the per-turn facade handlers use to talk to the user, persist
// progress and report diagnostics. It is not safe for concurrent use.
type Context struct {
	ctx    context.Context
	engine *Engine
	event  domain.Event
	entry  cache.Entry
	def    *registry.Definition
	logger *slog.Logger
	timers map[string]time.Time
}

func newContext(ctx context.Context, e *Engine, ev domain.Event, entry cache.Entry, def *registry.Definition, logger *slog.Logger) *Context {
	return &Context{
		ctx:    ctx,
		engine: e,
		event:  ev,
		entry:  entry,
		def:    def,
		logger: logger,
		timers: make(map[string]time.Time),
	}
}

// Ctx returns the turn's context.
func (c *Context) Ctx() context.Context { return c.ctx }

// Identity returns the conversation identity.
func (c *Context) Identity() domain.Identity { return c.entry.Record.Identity }

// Event returns the inbound event.
func (c *Context) Event() domain.Event { return c.event }

// Record returns the cached snapshot the turn started from.
func (c *Context) Record() *domain.ConversationRecord { return c.entry.Record }

// Definition returns the conversation type definition.
func (c *Context) Definition() *registry.Definition { return c.def }

// NextStep is the 1-based step a free-text answer targets.
func (c *Context) NextStep() int { return c.entry.NextStep() }

// Step returns the metadata of a 1-based step.
func (c *Context) Step(step int) (domain.Step, bool) { return c.entry.StepAt(step) }

// Reply sends plain text to the user.
func (c *Context) Reply(text string) error {
	ctx, cancel := c.call()
	defer cancel()
	if err := c.engine.channel.SendText(ctx, c.Identity(), text); err != nil {
		return domain.Unavailable("send text", err)
	}
	return nil
}

// ReplyWithOptions sends an interactive prompt. More than domain.MaxChoices
// choices are rejected; callers split larger option sets across prompts.
func (c *Context) ReplyWithOptions(title, body string, choices []domain.Choice) error {
	if len(choices) > domain.MaxChoices {
		return fmt.Errorf("%w: %d > %d", domain.ErrTooManyChoices, len(choices), domain.MaxChoices)
	}
	ctx, cancel := c.call()
	defer cancel()
	if err := c.engine.channel.SendChoice(ctx, c.Identity(), title, body, choices); err != nil {
		return domain.Unavailable("send choice", err)
	}
	return nil
}

// Transition moves the conversation from the turn's state to state, merging
// updates into the payload. It reports false when the stored state already moved.
func (c *Context) Transition(state string, status domain.Status, updates payload.Bag) (bool, error) {
	t := domain.Transition{
		FromState: c.entry.Record.State,
		ToState:   state,
		Status:    status,
		EventID:   c.event.ID,
	}
	if len(updates) > 0 {
		data, err := payload.Merge(c.entry.Record.Payload, updates)
		if err != nil {
			return false, err
		}
		t.Payload, t.SetPayload = data, true
	}

	ctx, cancel := c.call()
	defer cancel()
	ok, err := c.engine.store.Transition(ctx, c.Identity(), t)
	if err != nil {
		return false, domain.Unavailable("transition", err)
	}
	if !ok {
		c.logger.DebugContext(c.ctx, "transition precondition failed", "from", t.FromState, "to", state)
		return false, nil
	}

	if status.Terminal() || !c.engine.cache.Touch(c.Identity(), c.entry.Record.CurrentStep, state, status, c.event.ID) {
		c.engine.cache.Invalidate(c.Identity())
	}
	c.entry.Record.State = state
	c.entry.Record.Status = status
	if t.EventID != "" {
		c.entry.Record.LastEventID = t.EventID
	}
	if t.SetPayload {
		c.entry.Record.Payload = t.Payload
	}
	return true, nil
}

// Advance commits an answer to a step through the advancement protocol.
func (c *Context) Advance(step int, answer string) (AnswerResult, error) {
	res, err := c.engine.advancer.Advance(c.ctx, AnswerRequest{
		Identity: c.Identity(),
		Step:     step,
		Answer:   answer,
		EventID:  c.event.ID,
	})
	if err == nil {
		c.entry.Record.CurrentStep = res.Step
		c.entry.Record.State = res.State
		c.entry.Record.Status = res.Status
		c.entry.Record.LastEventID = c.event.ID
		if c.entry.Record.Answers == nil {
			c.entry.Record.Answers = make(map[int]string)
		}
		c.entry.Record.Answers[res.Step] = answer
	}
	return res, err
}

// Log writes an info message tagged with the turn's identity.
func (c *Context) Log(msg string, args ...any) {
	c.logger.InfoContext(c.ctx, msg, args...)
}

// Warn writes a warning.
func (c *Context) Warn(msg string, args ...any) {
	c.logger.WarnContext(c.ctx, msg, args...)
}

// Error writes an error.
func (c *Context) Error(msg string, args ...any) {
	c.logger.ErrorContext(c.ctx, msg, args...)
}

// StartTimer starts (or restarts) a named latency measurement.
func (c *Context) StartTimer(name string) {
	c.timers[name] = time.Now()
}

// StopTimer ends a measurement and reports it through OnTimer.
// It returns zero if the timer was never started.
func (c *Context) StopTimer(name string) time.Duration {
	started, ok := c.timers[name]
	if !ok {
		return 0
	}
	delete(c.timers, name)
	d := time.Since(started)
	if h := c.engine.hooks.OnTimer; h != nil {
		h(c.ctx, &domain.TimerEvent{Identity: c.Identity(), Name: name, Duration: d})
	}
	return d
}

// Detach runs fn after the turn without blocking it. Failures are logged only.
func (c *Context) Detach(name string, fn func(context.Context) error) {
	c.engine.tasks.Go(c.ctx, name, fn)
}

func (c *Context) call() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.engine.callTimeout)
}
