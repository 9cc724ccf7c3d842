package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stepwise"

// Metrics holds the engine collectors.
type Metrics struct {
	Turns        *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec
	Advances     *prometheus.CounterVec
	CacheLookups *prometheus.CounterVec
	Timers       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors on reg.
// A *prometheus.Registry is also used as the gatherer for Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Dispatched inbound events by handler and outcome.",
		}, []string{"handler", "outcome"}),
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "turn_duration_seconds",
			Help:      "Time spent handling one inbound event.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler"}),
		Advances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "advances_total",
			Help:      "Step advancement attempts by outcome.",
		}, []string{"outcome"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Progress cache lookups by result.",
		}, []string{"result"}),
		Timers: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handler",
			Name:      "timer_duration_seconds",
			Help:      "Named latency measurements taken inside handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Hooks returns callbacks that feed the collectors.
func (m *Metrics) Hooks() domain.Hooks {
	return domain.Hooks{
		OnTurn: func(_ context.Context, ev *domain.TurnEvent) {
			m.Turns.WithLabelValues(ev.Handler, string(ev.Outcome)).Inc()
			m.TurnDuration.WithLabelValues(ev.Handler).Observe(ev.Duration.Seconds())
		},
		OnAdvance: func(_ context.Context, ev *domain.AdvanceEvent) {
			m.Advances.WithLabelValues(string(ev.Outcome)).Inc()
		},
		OnCache: func(_ context.Context, ev *domain.CacheEvent) {
			result := "miss"
			if ev.Hit {
				result = "hit"
			}
			m.CacheLookups.WithLabelValues(result).Inc()
		},
		OnTimer: func(_ context.Context, ev *domain.TimerEvent) {
			m.Timers.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
		},
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
