package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/stepwise/internal/cache"
	"github.com/aretw0/stepwise/internal/runtime"
	"github.com/aretw0/stepwise/pkg/adapters/memory"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/aretw0/stepwise/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *memory.Store
	channel *memory.Channel
	cache   *cache.Cache
	engine  *runtime.Engine
	manager *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(memory.WithLatency(time.Millisecond)),
		channel: memory.NewChannel(),
	}
	steps, err := cache.NewCatalog(memory.NewSteps(map[string][]string{
		registry.TypeSurvey: {"Speed?", "Courtesy?"},
		registry.TypeLookup: {"Ticket code?"},
	}))
	require.NoError(t, err)

	reg := registry.Builtin()
	f.cache = cache.New(f.store, steps, cache.WithTTL(time.Minute))
	f.engine = runtime.NewEngine(f.store, f.cache, reg, f.channel)
	f.manager = session.NewManager(f.store, f.cache, steps, reg,
		session.WithPrompter(f.engine),
		session.WithIDGenerator(func() string { return "fixed-instance" }),
	)
	return f
}

func TestManager_StartPopulatesCacheAndPrompts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.manager.Start(ctx, session.StartRequest{Identity: "+55 (11) 99999-0000", Type: registry.TypeSurvey})
	require.NoError(t, err)

	id := domain.Identity("5511999990000")
	assert.Equal(t, id, rec.Identity)
	assert.Equal(t, "fixed-instance", rec.InstanceID)
	assert.Equal(t, domain.StateInvite, rec.State)
	assert.Equal(t, 2, rec.TotalSteps)
	assert.True(t, rec.AllowsFinalFreeText)
	assert.Equal(t, domain.StatusActive, rec.Status)

	entry, ok := f.cache.Get(id)
	require.True(t, ok, "start must populate the cache eagerly")
	assert.Equal(t, 0, entry.Record.CurrentStep)
	assert.Len(t, entry.Steps, 2)

	msg, ok := f.channel.Last(id)
	require.True(t, ok)
	require.Len(t, msg.Choices, 2)
	assert.Equal(t, registry.InviteControl(true), msg.Choices[0].ID)
}

func TestManager_StartSilent(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Start(context.Background(), session.StartRequest{Identity: "551", Type: registry.TypeLookup, Silent: true})
	require.NoError(t, err)
	assert.Empty(t, f.channel.Messages("551"))
}

func TestManager_StartRestartsInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := domain.Identity("552")

	_, err := f.manager.Start(ctx, session.StartRequest{Identity: string(id), Type: registry.TypeSurvey})
	require.NoError(t, err)
	_, err = f.engine.Dispatch(ctx, domain.Event{ID: "e1", Identity: id, ControlID: registry.InviteControl(true)})
	require.NoError(t, err)
	_, err = f.engine.Dispatch(ctx, domain.Event{ID: "e2", Identity: id, ControlID: registry.RatingControl(1, 5)})
	require.NoError(t, err)

	rec, err := f.manager.Inspect(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, rec.CurrentStep)

	rec, err = f.manager.Start(ctx, session.StartRequest{Identity: string(id), Type: registry.TypeLookup, Silent: true})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CurrentStep)

	stored, err := f.manager.Inspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, registry.TypeLookup, stored.ConversationType)
	assert.Equal(t, 0, stored.CurrentStep)
	assert.Empty(t, stored.Answers)
}

func TestManager_StartErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, session.StartRequest{Identity: " ", Type: registry.TypeSurvey})
	assert.ErrorIs(t, err, session.ErrIdentityRequired)

	_, err = f.manager.Start(ctx, session.StartRequest{Identity: "553", Type: "quiz"})
	assert.ErrorIs(t, err, domain.ErrUnknownConversationType)

	// Intake is registered but has no steps in this fixture.
	_, err = f.manager.Start(ctx, session.StartRequest{Identity: "553", Type: registry.TypeIntake})
	assert.Error(t, err)
	_, err = f.store.ReadProgress(ctx, "553")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestManager_StartReportsUndeliveredPrompt(t *testing.T) {
	f := newFixture(t)
	f.channel.FailWith(errors.New("channel down"))

	rec, err := f.manager.Start(context.Background(), session.StartRequest{Identity: "554", Type: registry.TypeSurvey})
	require.Error(t, err)
	require.NotNil(t, rec, "the instance exists even though the prompt failed")

	_, err = f.store.ReadProgress(context.Background(), "554")
	assert.NoError(t, err)
}

func TestManager_AbandonEndsConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := domain.Identity("555")

	_, err := f.manager.Start(ctx, session.StartRequest{Identity: string(id), Type: registry.TypeSurvey, Silent: true})
	require.NoError(t, err)
	require.NoError(t, f.manager.Abandon(ctx, id))

	_, ok := f.cache.Get(id)
	assert.False(t, ok)

	rec, err := f.manager.Inspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, rec.Status)

	outcome, err := f.engine.Dispatch(ctx, domain.Event{ID: "late", Identity: id, ControlID: registry.InviteControl(true)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	assert.ErrorIs(t, f.manager.Abandon(ctx, "missing"), domain.ErrConversationNotFound)
}

func TestManager_ListAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"561", "562"} {
		_, err := f.manager.Start(ctx, session.StartRequest{Identity: id, Type: registry.TypeLookup, Silent: true})
		require.NoError(t, err)
	}

	ids, err := f.manager.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{"561", "562"}, ids)

	require.NoError(t, f.manager.Delete(ctx, "561"))
	_, ok := f.cache.Get("561")
	assert.False(t, ok)
	_, err = f.manager.Inspect(ctx, "561")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestManager_ConcurrentStartsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Start(ctx, session.StartRequest{Identity: "570", Type: registry.TypeSurvey, Silent: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := f.manager.Inspect(ctx, "570")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CurrentStep)
	assert.Equal(t, domain.StatusActive, rec.Status)
}
