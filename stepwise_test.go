package stepwise_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/stepwise"
	"github.com/aretw0/stepwise/pkg/adapters/memory"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/aretw0/stepwise/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, opts ...stepwise.Option) (*stepwise.Engine, *memory.Store, *memory.Channel) {
	t.Helper()
	store := memory.NewStore()
	ch := memory.NewChannel()
	steps := memory.NewSteps(map[string][]string{
		registry.TypeSurvey: {"How fast were we?", "How kind were we?"},
	})
	base := []stepwise.Option{
		stepwise.WithStore(store),
		stepwise.WithChannel(ch),
		stepwise.WithSteps(steps),
		stepwise.WithCacheTTL(time.Minute),
		stepwise.WithMetadataTTL(time.Hour),
	}
	eng, err := stepwise.New(append(base, opts...)...)
	require.NoError(t, err)
	return eng, store, ch
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := stepwise.New(stepwise.WithSteps(memory.NewSteps(nil)))
	assert.Error(t, err, "missing channel")

	_, err = stepwise.New(stepwise.WithChannel(memory.NewChannel()))
	assert.Error(t, err, "missing steps")

	_, err = stepwise.New(
		stepwise.WithChannel(memory.NewChannel()),
		stepwise.WithSteps(memory.NewSteps(nil)),
		stepwise.WithCacheTTL(time.Hour),
		stepwise.WithMetadataTTL(time.Minute),
	)
	assert.Error(t, err, "metadata must outlive progress entries")
}

func TestEngine_SurveyEndToEnd(t *testing.T) {
	ctx := context.Background()
	eng, store, ch := newEngine(t)
	id := domain.Identity("5511999990000")

	rec, err := eng.Start(ctx, session.StartRequest{Identity: "+55 11 99999-0000", Type: registry.TypeSurvey})
	require.NoError(t, err)
	assert.Equal(t, id, rec.Identity)
	assert.Equal(t, domain.StateInvite, rec.State)

	last, ok := ch.Last(id)
	require.True(t, ok)
	require.Len(t, last.Choices, 2)

	out, err := eng.Dispatch(ctx, domain.Event{ID: "e1", Identity: id, ControlID: registry.InviteControl(true)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTransitioned, out)

	out, err = eng.Dispatch(ctx, domain.Event{ID: "e2", Identity: id, ControlID: registry.RatingControl(1, 5)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAdvanced, out)

	// The same click delivered twice is absorbed.
	out, err = eng.Dispatch(ctx, domain.Event{ID: "e2", Identity: id, ControlID: registry.RatingControl(1, 5)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, out)

	out, err = eng.Dispatch(ctx, domain.Event{ID: "e3", Identity: id, Text: "4"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAdvanced, out)

	out, err = eng.Dispatch(ctx, domain.Event{ID: "e4", Identity: id, Text: "Great service"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTransitioned, out)

	stored, err := store.ReadProgress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentStep)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, map[int]string{1: "5", 2: "4"}, stored.Answers)

	require.NoError(t, eng.Close(ctx))
}

func TestEngine_SessionsLifecycle(t *testing.T) {
	ctx := context.Background()
	eng, _, ch := newEngine(t)

	_, err := eng.Start(ctx, session.StartRequest{Identity: "5511988887777", Type: registry.TypeSurvey, Silent: true})
	require.NoError(t, err)
	assert.Empty(t, ch.Messages("5511988887777"), "silent start sends nothing")

	require.NoError(t, eng.Prompt(ctx, "5511988887777"))
	assert.Len(t, ch.Messages("5511988887777"), 1)

	ids, err := eng.Sessions().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{"5511988887777"}, ids)

	require.NoError(t, eng.Sessions().Abandon(ctx, "5511988887777"))
	rec, err := eng.Sessions().Inspect(ctx, "5511988887777")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, rec.Status)

	out, err := eng.Dispatch(ctx, domain.Event{ID: "late", Identity: "5511988887777", ControlID: registry.InviteControl(true)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, out)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	eng, _, _ := newEngine(t, stepwise.WithSweepInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
