package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/stepwise/pkg/adapters/redis"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)

	store := redis.NewFromClient(client)
	ports.RunProgressStoreContract(t, store)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	id := domain.Identity("5511900000001")

	err := store.Create(ctx, domain.NewRecord(id, "i-1", "survey", domain.StateQuestion, 3, false))
	require.NoError(t, err)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	// Fast Forward time in miniredis (for Key Expiration)
	mr.FastForward(2 * time.Second)

	_, err = store.ReadProgress(ctx, id)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	// The index is pruned against wall-clock time.
	time.Sleep(1200 * time.Millisecond)

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStore_AnswersExpireWithRecord(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithTTL(time.Hour))
	ctx := context.Background()
	id := domain.Identity("5511900000003")

	require.NoError(t, store.Create(ctx, domain.NewRecord(id, "i-1", "survey", domain.StateQuestion, 3, false)))
	res, err := store.ConditionalAdvance(ctx, id, domain.Advance{FromStep: 0, Answer: "4", ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput})
	require.NoError(t, err)
	require.True(t, res.Success)

	answersTTL := mr.TTL("stepwise:conv:5511900000003:answers")
	assert.Positive(t, answersTTL, "answers hash must carry a TTL")
	assert.LessOrEqual(t, answersTTL, time.Hour)

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists("stepwise:conv:5511900000003:answers"))
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	id := domain.Identity("5511900000002")

	rec := domain.NewRecord(id, "i-1", "survey", domain.StateQuestion, 3, false)
	require.NoError(t, store.Create(ctx, rec))
	_, err := store.ConditionalAdvance(ctx, id, domain.Advance{FromStep: 0, Answer: "5", ToState: domain.StateQuestion, ToStatus: domain.StatusAwaitingInput})
	require.NoError(t, err)

	assert.True(t, mr.Exists("custom:app:conv:5511900000002"), "Expected record key with custom prefix")
	assert.True(t, mr.Exists("custom:app:conv:5511900000002:answers"), "Expected answers key with custom prefix")
	assert.True(t, mr.Exists("custom:app:index"), "Expected index with custom prefix")
	assert.Equal(t, "1", mr.HGet("custom:app:conv:5511900000002", "current_step"))
}

func TestRedisStore_MissingRecord(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	_, err := store.ConditionalAdvance(ctx, "nobody", domain.Advance{FromStep: 0})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	_, err = store.Transition(ctx, "nobody", domain.Transition{FromState: domain.StateInvite})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	assert.ErrorIs(t, store.SetStatus(ctx, "nobody", domain.StatusAbandoned), domain.ErrConversationNotFound)
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client)

	mr.HSet("stepwise:conv:broken", "current_step", "many")

	_, err := store.ReadProgress(context.Background(), "broken")
	assert.ErrorContains(t, err, "corrupt conversation")
}

func TestNewFromURL(t *testing.T) {
	mr, _ := newClient(t)

	store, err := redis.NewFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Ping(context.Background()))

	_, err = redis.NewFromURL("://nope")
	assert.Error(t, err)
}
