package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("voicegate_test", reg, zap.NewNop()), reg
}

func TestCollector_SessionGauge(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive))
}

func TestCollector_Counters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordTransition("idle", "listening")
	c.RecordTransition("idle", "listening")
	c.RecordTurn("completed")
	c.RecordIntent("cardiology")
	c.RecordBackendError("transcription")
	c.FrameDropped("rate_limited")
	c.SynthesisFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.stateTransitions.WithLabelValues("idle", "listening")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.intentsRouted.WithLabelValues("cardiology")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backendErrors.WithLabelValues("transcription")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesDropped.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.synthesisFailed))
}

func TestCollector_StageHistogram(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveStage("responding", 300*time.Millisecond)
	c.ObserveStage("responding", 2*time.Second)

	assert.Equal(t, 1, testutil.CollectAndCount(c.stageDuration))
}

func TestCollector_Registration(t *testing.T) {
	c, reg := newTestCollector(t)
	c.SessionOpened()
	c.RecordTurn("failed")

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["voicegate_test_sessions_active"])
	assert.True(t, names["voicegate_test_turns_total"])
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SessionOpened()
		c.SessionClosed()
		c.RecordTransition("a", "b")
		c.RecordTurn("completed")
		c.RecordIntent("general")
		c.RecordBackendError("response")
		c.FrameDropped("not_listening")
		c.SynthesisFailed()
		c.ObserveStage("routing", time.Millisecond)
	})
}
