package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/stepwise/internal/cache"
	"github.com/aretw0/stepwise/internal/retry"
	"github.com/aretw0/stepwise/internal/runtime"
	"github.com/aretw0/stepwise/pkg/adapters/memory"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

type harness struct {
	store    *memory.Store
	channel  *memory.Channel
	recorder *memory.Recorder
	cache    *cache.Cache
	engine   *runtime.Engine
}

type harnessConfig struct {
	store   ports.ProgressStore
	channel ports.Channel
	opts    []runtime.Option
}

type harnessOption func(*harnessConfig)

func withStore(s ports.ProgressStore) harnessOption {
	return func(c *harnessConfig) { c.store = s }
}

func withChannel(ch ports.Channel) harnessOption {
	return func(c *harnessConfig) { c.channel = ch }
}

func withEngineOptions(opts ...runtime.Option) harnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		store:    memory.NewStore(memory.WithLatency(time.Millisecond)),
		channel:  memory.NewChannel(),
		recorder: memory.NewRecorder(),
	}
	cfg := harnessConfig{store: h.store, channel: h.channel}
	for _, opt := range opts {
		opt(&cfg)
	}

	steps := memory.NewSteps(map[string][]string{
		registry.TypeSurvey: {"Speed?", "Courtesy?", "Clarity?", "Price?", "Quality?", "Overall?"},
	})
	steps.Put(registry.TypeIntake,
		domain.Step{Index: 1, Prompt: "What is your name?", Field: "name"},
		domain.Step{Index: 2, Prompt: "What is your email?", Field: "email", Pattern: `^[^@\s]+@[^@\s]+\.[a-z]{2,}$`, Hint: "That does not look like an email."},
	)
	steps.Put(registry.TypeLookup, domain.Step{Index: 1, Prompt: "Send your ticket code.", Field: "code"})

	catalog, err := cache.NewCatalog(steps)
	require.NoError(t, err)
	h.cache = cache.New(cfg.store, catalog, cache.WithTTL(time.Minute), cache.WithRetry(fastRetry))

	engineOpts := append([]runtime.Option{
		runtime.WithDirectory(memory.NewDirectory(domain.Document{Code: "TCK-100", Title: "Broken router", Status: "open", Summary: "Technician visit scheduled."})),
		runtime.WithTurnRecorder(h.recorder),
		runtime.WithRetry(fastRetry),
		runtime.WithCallTimeout(time.Second),
	}, cfg.opts...)
	h.engine = runtime.NewEngine(cfg.store, h.cache, registry.Builtin(), cfg.channel, engineOpts...)
	return h
}

// begin creates a conversation directly in the store.
func (h *harness) begin(t *testing.T, id domain.Identity, convType, state string, total int, freeText bool) {
	t.Helper()
	rec := domain.NewRecord(id, "inst-"+string(id), convType, state, total, freeText)
	require.NoError(t, h.store.Create(context.Background(), rec))
}

func (h *harness) record(t *testing.T, id domain.Identity) *domain.ConversationRecord {
	t.Helper()
	rec, err := h.store.ReadProgress(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (h *harness) click(id domain.Identity, eventID, control string) (domain.Outcome, error) {
	return h.engine.Dispatch(context.Background(), domain.Event{ID: eventID, Identity: id, ControlID: control})
}

func (h *harness) say(id domain.Identity, eventID, text string) (domain.Outcome, error) {
	return h.engine.Dispatch(context.Background(), domain.Event{ID: eventID, Identity: id, Text: text})
}
