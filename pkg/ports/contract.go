package ports

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunProgressStoreContract runs a suite of tests to verify that a ProgressStore implementation
// adheres to the defined interface contract, including its compare-and-swap semantics.
func RunProgressStoreContract(t *testing.T, store ProgressStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405")

	newRecord := func(id domain.Identity) *domain.ConversationRecord {
		rec := domain.NewRecord(id, "instance-"+string(id), "survey", domain.StateQuestion, 3, true)
		rec.Payload = []byte{0xa1, 0x61, 0x6b, 0x01}
		return rec
	}

	t.Run("Create and Read", func(t *testing.T) {
		id := domain.Identity(prefix + "-create")
		require.NoError(t, store.Create(ctx, newRecord(id)))

		loaded, err := store.ReadProgress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, loaded.Identity)
		assert.Equal(t, "survey", loaded.ConversationType)
		assert.Equal(t, domain.StateQuestion, loaded.State)
		assert.Equal(t, 0, loaded.CurrentStep)
		assert.Equal(t, 3, loaded.TotalSteps)
		assert.True(t, loaded.AllowsFinalFreeText)
		assert.Equal(t, domain.StatusActive, loaded.Status)
		assert.Equal(t, []byte{0xa1, 0x61, 0x6b, 0x01}, loaded.Payload)
	})

	t.Run("Read Non-Existent", func(t *testing.T) {
		_, err := store.ReadProgress(ctx, domain.Identity(prefix+"-missing"))
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("Advance Applies Once", func(t *testing.T) {
		id := domain.Identity(prefix + "-advance")
		require.NoError(t, store.Create(ctx, newRecord(id)))

		res, err := store.ConditionalAdvance(ctx, id, domain.Advance{
			FromStep: 0, Answer: "4", EventID: "evt-1",
			ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput,
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.NewStep)

		// Same precondition again must fail: the step already moved.
		res, err = store.ConditionalAdvance(ctx, id, domain.Advance{
			FromStep: 0, Answer: "5", EventID: "evt-2",
			ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput,
		})
		require.NoError(t, err)
		assert.False(t, res.Success)

		loaded, err := store.ReadProgress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, loaded.CurrentStep)
		assert.Equal(t, "4", loaded.Answers[1])
		assert.Equal(t, "evt-1", loaded.LastEventID)
		assert.Equal(t, domain.StatusAwaitingInput, loaded.Status)
	})

	t.Run("Advance Rejects Repeated Event", func(t *testing.T) {
		id := domain.Identity(prefix + "-event")
		require.NoError(t, store.Create(ctx, newRecord(id)))

		adv := domain.Advance{FromStep: 0, Answer: "ok", EventID: "evt-dup", ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput}
		res, err := store.ConditionalAdvance(ctx, id, adv)
		require.NoError(t, err)
		require.True(t, res.Success)

		adv.FromStep = 1
		res, err = store.ConditionalAdvance(ctx, id, adv)
		require.NoError(t, err)
		assert.False(t, res.Success, "an event id already committed must not advance again")
	})

	t.Run("Advance Is Bound To Instance And State", func(t *testing.T) {
		id := domain.Identity(prefix + "-instance")
		rec := newRecord(id)
		rec.InstanceID = "instance-new"
		rec.State = domain.StateInvite
		require.NoError(t, store.Create(ctx, rec))

		res, err := store.ConditionalAdvance(ctx, id, domain.Advance{
			FromStep: 0, InstanceID: "instance-old", FromState: domain.StateInvite, Answer: "5",
			ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput,
		})
		require.NoError(t, err)
		assert.False(t, res.Success, "an answer for another instance must not apply")

		res, err = store.ConditionalAdvance(ctx, id, domain.Advance{
			FromStep: 0, InstanceID: "instance-new", FromState: domain.StateQuestion, Answer: "5",
			ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput,
		})
		require.NoError(t, err)
		assert.False(t, res.Success, "an answer for another state must not apply")

		loaded, err := store.ReadProgress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, loaded.CurrentStep)
		assert.Equal(t, domain.StateInvite, loaded.State)
		assert.Empty(t, loaded.Answers)

		res, err = store.ConditionalAdvance(ctx, id, domain.Advance{
			FromStep: 0, InstanceID: "instance-new", FromState: domain.StateInvite, Answer: "5",
			ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput,
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("Advance Rejects Terminal", func(t *testing.T) {
		id := domain.Identity(prefix + "-terminal")
		require.NoError(t, store.Create(ctx, newRecord(id)))
		require.NoError(t, store.SetStatus(ctx, id, domain.StatusAbandoned))

		res, err := store.ConditionalAdvance(ctx, id, domain.Advance{FromStep: 0, Answer: "1", ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput})
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("Advance Final Step Sets Status", func(t *testing.T) {
		id := domain.Identity(prefix + "-final")
		rec := newRecord(id)
		rec.TotalSteps = 1
		require.NoError(t, store.Create(ctx, rec))

		res, err := store.ConditionalAdvance(ctx, id, domain.Advance{FromStep: 0, Answer: "2", ToState: domain.StateDone, ToStatus: domain.StatusCompleted})
		require.NoError(t, err)
		require.True(t, res.Success)

		loaded, err := store.ReadProgress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, loaded.Status)
		assert.Equal(t, domain.StateDone, loaded.State)
	})

	t.Run("Concurrent Advance Has One Winner", func(t *testing.T) {
		id := domain.Identity(prefix + "-race")
		require.NoError(t, store.Create(ctx, newRecord(id)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				res, err := store.ConditionalAdvance(ctx, id, domain.Advance{
					FromStep: 0, Answer: "5", EventID: fmt.Sprintf("evt-%d", n),
					ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput,
				})
				assert.NoError(t, err)
				if res.Success {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		loaded, err := store.ReadProgress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, loaded.CurrentStep)
	})

	t.Run("Transition Is Conditional", func(t *testing.T) {
		id := domain.Identity(prefix + "-transition")
		rec := newRecord(id)
		rec.State = domain.StateInvite
		require.NoError(t, store.Create(ctx, rec))

		ok, err := store.Transition(ctx, id, domain.Transition{
			FromState: domain.StateInvite, ToState: domain.StateQuestion, Status: domain.StatusAwaitingInput,
			EventID: "evt-t", Payload: []byte("blob"), SetPayload: true,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Transition(ctx, id, domain.Transition{FromState: domain.StateInvite, ToState: domain.StateDone, Status: domain.StatusAbandoned})
		require.NoError(t, err)
		assert.False(t, ok)

		loaded, err := store.ReadProgress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateQuestion, loaded.State)
		assert.Equal(t, domain.StatusAwaitingInput, loaded.Status)
		assert.Equal(t, []byte("blob"), loaded.Payload)
		assert.Equal(t, "evt-t", loaded.LastEventID)
	})

	t.Run("Create Restarts Instance", func(t *testing.T) {
		id := domain.Identity(prefix + "-restart")
		require.NoError(t, store.Create(ctx, newRecord(id)))
		_, err := store.ConditionalAdvance(ctx, id, domain.Advance{FromStep: 0, Answer: "3", EventID: "evt-r", ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput})
		require.NoError(t, err)

		fresh := newRecord(id)
		fresh.InstanceID = "instance-2"
		require.NoError(t, store.Create(ctx, fresh))

		loaded, err := store.ReadProgress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "instance-2", loaded.InstanceID)
		assert.Equal(t, 0, loaded.CurrentStep)
		assert.Empty(t, loaded.Answers)
		assert.Empty(t, loaded.LastEventID)
	})

	t.Run("Delete and List", func(t *testing.T) {
		id1 := domain.Identity(prefix + "-list-1")
		id2 := domain.Identity(prefix + "-list-2")
		require.NoError(t, store.Create(ctx, newRecord(id1)))
		require.NoError(t, store.Create(ctx, newRecord(id2)))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)

		require.NoError(t, store.Delete(ctx, id1))
		_, err = store.ReadProgress(ctx, id1)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound, "Read after Delete should return ErrConversationNotFound")

		ids, err = store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, id1)
	})
}
