package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/stepwise/internal/retry"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = retry.Policy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrConversationNotFound
	})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fast, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("timeout")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_None(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), retry.None(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
