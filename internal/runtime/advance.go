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

// AnswerRequest is one parsed answer to a numbered step.
type AnswerRequest struct {
	Identity domain.Identity

	// Step is the 1-based step being answered.
	Step    int
	Answer  string
	EventID string
}

// AnswerResult reports what the advancement protocol did.
type AnswerResult struct {
	Outcome domain.Outcome

	// Step is the committed step count after a successful advance.
	Step   int
	State  string
	Status domain.Status
}

// Completed reports whether the advance finished the conversation.
func (r AnswerResult) Completed() bool {
	return r.Status == domain.StatusCompleted
}

// Advancer runs the idempotent step-advancement protocol:
// validate against the cache, verify against the store, commit conditionally,
// then refresh the cache.
//
// It holds no locks. Concurrent callers for the same identity are serialized
// only by the store's conditional write.
type Advancer struct {
	store       ports.ProgressStore
	cache       *cache.Cache
	registry    *registry.Registry
	logger      *slog.Logger
	hooks       domain.Hooks
	policy      retry.Policy
	callTimeout time.Duration
}

// NewAdvancer wires an advancer.
func NewAdvancer(store ports.ProgressStore, c *cache.Cache, reg *registry.Registry) *Advancer {
	return &Advancer{
		store:       store,
		cache:       c,
		registry:    reg,
		logger:      logging.NewNop(),
		policy:      retry.Default(),
		callTimeout: DefaultCallTimeout,
	}
}

// Advance applies req at most once.
//
// Errors: a *domain.ValidationError when the step is out of range;
// domain.ErrStaleOrDuplicate when the store no longer expects this step, already
// committed this event, or holds a different instance or state than the cache; domain.ErrLostRace when a concurrent commit won;
// domain.ErrCollaboratorUnavailable when the store could not be reached.
// Only a nil error means the store changed.
func (a *Advancer) Advance(ctx context.Context, req AnswerRequest) (AnswerResult, error) {
	res, err := a.advance(ctx, req)
	if a.hooks.OnAdvance != nil {
		a.hooks.OnAdvance(ctx, &domain.AdvanceEvent{Identity: req.Identity, Step: req.Step, Outcome: res.Outcome})
	}
	return res, err
}

func (a *Advancer) advance(ctx context.Context, req AnswerRequest) (AnswerResult, error) {
	// 1. Validate against the cached view.
	entry, err := a.cache.Fetch(ctx, req.Identity)
	if err != nil {
		return AnswerResult{Outcome: domain.OutcomeFailed}, a.wrap("read progress", err)
	}
	if req.Step < 1 || req.Step > entry.Record.TotalSteps {
		return AnswerResult{Outcome: domain.OutcomeInvalid},
			domain.Invalid(req.Step, "step must be between 1 and %d", entry.Record.TotalSteps)
	}

	// 2. Verify against the authoritative record.
	rec, err := a.read(ctx, req.Identity)
	if err != nil {
		return AnswerResult{Outcome: domain.OutcomeFailed}, a.wrap("verify progress", err)
	}
	if req.Step > rec.TotalSteps {
		return AnswerResult{Outcome: domain.OutcomeInvalid},
			domain.Invalid(req.Step, "step must be between 1 and %d", rec.TotalSteps)
	}
	// An answer validated against another instance, or another state, of the
	// conversation never lands in this one.
	if rec.InstanceID != entry.Record.InstanceID || rec.State != entry.Record.State ||
		rec.Status.Terminal() || rec.CurrentStep != req.Step-1 ||
		(req.EventID != "" && rec.LastEventID == req.EventID) {
		a.logger.DebugContext(ctx, "stale or duplicate answer",
			"identity", req.Identity, "step", req.Step, "stored_step", rec.CurrentStep,
			"instance_id", rec.InstanceID, "state", rec.State,
			"status", rec.Status, "event_id", req.EventID)
		a.cache.Invalidate(req.Identity)
		return AnswerResult{Outcome: domain.OutcomeDuplicate, Step: rec.CurrentStep, State: rec.State, Status: rec.Status},
			domain.ErrStaleOrDuplicate
	}

	// 3. Decide the next state once, then commit conditionally. Never retried.
	toState, toStatus, err := a.next(rec, req.Step)
	if err != nil {
		return AnswerResult{Outcome: domain.OutcomeFailed}, err
	}
	cctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	commit, err := a.store.ConditionalAdvance(cctx, req.Identity, domain.Advance{
		FromStep:   req.Step - 1,
		InstanceID: rec.InstanceID,
		FromState:  rec.State,
		Answer:     req.Answer,
		EventID:    req.EventID,
		ToState:    toState,
		ToStatus:   toStatus,
	})
	cancel()
	if err != nil {
		return AnswerResult{Outcome: domain.OutcomeFailed}, a.wrap("commit advance", err)
	}
	if !commit.Success {
		a.logger.DebugContext(ctx, "conditional commit lost race", "identity", req.Identity, "step", req.Step)
		return AnswerResult{Outcome: domain.OutcomeLostRace}, domain.ErrLostRace
	}

	// 4. Refresh the hint only after the durable write.
	if toStatus == domain.StatusCompleted {
		a.cache.Invalidate(req.Identity)
	} else if !a.cache.Touch(req.Identity, commit.NewStep, toState, toStatus, req.EventID) {
		a.cache.Invalidate(req.Identity)
	}

	return AnswerResult{
		Outcome: domain.OutcomeAdvanced,
		Step:    commit.NewStep,
		State:   toState,
		Status:  toStatus,
	}, nil
}

// next decides where a committed answer to step leads.
func (a *Advancer) next(rec *domain.ConversationRecord, step int) (string, domain.Status, error) {
	def, err := a.registry.Lookup(rec.ConversationType)
	if err != nil {
		return "", "", err
	}
	if step < rec.TotalSteps {
		return def.AnswerState, domain.StatusAwaitingInput, nil
	}
	if rec.AllowsFinalFreeText {
		if state, ok := def.CommentState(); ok {
			return state, domain.StatusAwaitingInput, nil
		}
	}
	return domain.StateDone, domain.StatusCompleted, nil
}

func (a *Advancer) read(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error) {
	return retry.Do(ctx, a.policy, func(ctx context.Context) (*domain.ConversationRecord, error) {
		cctx, cancel := context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
		return a.store.ReadProgress(cctx, id)
	})
}

func (a *Advancer) wrap(op string, err error) error {
	if errors.Is(err, domain.ErrConversationNotFound) ||
		errors.Is(err, domain.ErrUnknownConversationType) ||
		errors.Is(err, domain.ErrCollaboratorUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.Unavailable(op, err)
}
