// Package metrics exposes gateway counters and latencies to Prometheus.
// Every method is safe on a nil *Collector, so components can take metrics
// as an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the gateway metrics.
type Collector struct {
	sessionsActive   prometheus.Gauge
	stateTransitions *prometheus.CounterVec
	turnsTotal       *prometheus.CounterVec
	intentsRouted    *prometheus.CounterVec
	backendErrors    *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	synthesisFailed  prometheus.Counter
	stageDuration    *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the gateway metrics on reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of connected voice sessions",
	})

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Session state machine transitions",
		},
		[]string{"from", "to"},
	)

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by outcome",
		},
		[]string{"outcome"},
	)

	c.intentsRouted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_routed_total",
			Help:      "Turns routed per intent label",
		},
		[]string{"label"},
	)

	c.backendErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend failures per pipeline stage",
		},
		[]string{"stage"},
	)

	c.framesDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Inbound audio frames that were not processed",
		},
		[]string{"reason"},
	)

	c.synthesisFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthesis_failures_total",
		Help:      "Response units delivered without audio",
	})

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_duration_seconds",
			Help:      "Time spent in each turn stage",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	c.logger.Debug("Metrics registered", zap.String("namespace", namespace))
	return c
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordTurn counts a finished turn. Outcomes are completed, failed,
// cancelled and no_speech.
func (c *Collector) RecordTurn(outcome string) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordIntent(label string) {
	if c == nil {
		return
	}
	c.intentsRouted.WithLabelValues(label).Inc()
}

func (c *Collector) RecordBackendError(stage string) {
	if c == nil {
		return
	}
	c.backendErrors.WithLabelValues(stage).Inc()
}

func (c *Collector) FrameDropped(reason string) {
	if c == nil {
		return
	}
	c.framesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) SynthesisFailed() {
	if c == nil {
		return
	}
	c.synthesisFailed.Inc()
}

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
