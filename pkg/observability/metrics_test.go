package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := m.Hooks()
	ctx := context.Background()

	h.OnTurn(ctx, &domain.TurnEvent{Handler: "rating", Outcome: domain.OutcomeAdvanced, Duration: 20 * time.Millisecond})
	h.OnTurn(ctx, &domain.TurnEvent{Handler: "rating", Outcome: domain.OutcomeDuplicate, Duration: time.Millisecond})
	h.OnAdvance(ctx, &domain.AdvanceEvent{Identity: "1", Step: 1, Outcome: domain.OutcomeAdvanced})
	h.OnAdvance(ctx, &domain.AdvanceEvent{Identity: "1", Step: 1, Outcome: domain.OutcomeLostRace})
	h.OnAdvance(ctx, &domain.AdvanceEvent{Identity: "1", Step: 1, Outcome: domain.OutcomeLostRace})
	h.OnCache(ctx, &domain.CacheEvent{Hit: true})
	h.OnCache(ctx, &domain.CacheEvent{Hit: false})
	h.OnTimer(ctx, &domain.TimerEvent{Name: "directory_lookup", Duration: 5 * time.Millisecond})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("rating", "advanced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("rating", "duplicate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Advances.WithLabelValues("lost_race")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Timers))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TurnDuration))
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Hooks().OnAdvance(context.Background(), &domain.AdvanceEvent{Outcome: domain.OutcomeAdvanced})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `stepwise_progress_advances_total{outcome="advanced"} 1`))
}

func TestCombine(t *testing.T) {
	var calls []string
	a := domain.Hooks{OnTurn: func(context.Context, *domain.TurnEvent) { calls = append(calls, "a") }}
	b := domain.Hooks{
		OnTurn:  func(context.Context, *domain.TurnEvent) { calls = append(calls, "b") },
		OnCache: func(context.Context, *domain.CacheEvent) { calls = append(calls, "cache") },
	}

	h := Combine(a, domain.Hooks{}, b)
	h.OnTurn(context.Background(), &domain.TurnEvent{})
	h.OnCache(context.Background(), &domain.CacheEvent{})

	assert.Equal(t, []string{"a", "b", "cache"}, calls)
	assert.Nil(t, h.OnAdvance)
	assert.Nil(t, h.OnTimer)
}
