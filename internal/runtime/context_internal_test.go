package runtime

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/aretw0/stepwise/internal/cache"
	"github.com/aretw0/stepwise/pkg/adapters/memory"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkChoices(t *testing.T) {
	mk := func(n int) []domain.Choice {
		out := make([]domain.Choice, n)
		for i := range out {
			out[i] = domain.Choice{ID: strconv.Itoa(i)}
		}
		return out
	}

	tests := []struct {
		n    int
		want []int
	}{
		{0, nil},
		{2, []int{2}},
		{3, []int{3}},
		{5, []int{3, 2}},
		{7, []int{3, 3, 1}},
	}
	for _, tt := range tests {
		var sizes []int
		for _, chunk := range chunkChoices(mk(tt.n), domain.MaxChoices) {
			sizes = append(sizes, len(chunk))
		}
		assert.Equal(t, tt.want, sizes, "n=%d", tt.n)
	}
}

func testContext(t *testing.T, hooks domain.Hooks) (*Context, *memory.Channel) {
	t.Helper()
	store := memory.NewStore()
	ch := memory.NewChannel()
	catalog, err := cache.NewCatalog(memory.NewSteps(map[string][]string{"survey": {"q"}}))
	require.NoError(t, err)
	c := cache.New(store, catalog)
	e := NewEngine(store, c, registry.Builtin(), ch, WithHooks(hooks))

	rec := domain.NewRecord("42", "i", "survey", domain.StateQuestion, 1, false)
	entry := cache.Entry{Record: rec}
	return newContext(context.Background(), e, domain.Event{ID: "e"}, entry, registry.Survey(), e.logger), ch
}

func TestContext_ReplyWithOptionsRejectsTooManyChoices(t *testing.T) {
	tc, ch := testContext(t, domain.Hooks{})

	err := tc.ReplyWithOptions("t", "b", make([]domain.Choice, 4))
	assert.ErrorIs(t, err, domain.ErrTooManyChoices)
	assert.Empty(t, ch.Messages("42"))

	require.NoError(t, tc.ReplyWithOptions("t", "b", make([]domain.Choice, 3)))
	assert.Len(t, ch.Messages("42"), 1)
}

func TestContext_ReplyWrapsChannelFailure(t *testing.T) {
	tc, ch := testContext(t, domain.Hooks{})
	ch.FailWith(assert.AnError)

	err := tc.Reply("hi")
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestContext_Timers(t *testing.T) {
	var got *domain.TimerEvent
	tc, _ := testContext(t, domain.Hooks{
		OnTimer: func(_ context.Context, e *domain.TimerEvent) { got = e },
	})

	assert.Zero(t, tc.StopTimer("never"))
	assert.Nil(t, got)

	tc.StartTimer("channel")
	time.Sleep(time.Millisecond)
	d := tc.StopTimer("channel")

	require.NotNil(t, got)
	assert.Equal(t, "channel", got.Name)
	assert.Equal(t, d, got.Duration)
	assert.Positive(t, d)
}

func TestContext_DetachOutlivesTurn(t *testing.T) {
	tc, _ := testContext(t, domain.Hooks{})
	ctx, cancel := context.WithCancel(context.Background())
	tc.ctx = ctx

	done := make(chan error, 1)
	tc.Detach("side-effect", func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		done <- ctx.Err()
		return nil
	})
	cancel()

	require.NoError(t, tc.engine.Wait(context.Background()))
	assert.NoError(t, <-done, "detached work must not inherit the turn's cancellation")
}
