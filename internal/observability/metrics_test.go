package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).Write(m))
	return m.GetCounter().GetValue()
}

func TestRecordEnforcementIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordEnforcement("challenge")
	m.RecordEnforcement("challenge")
	m.RecordEnforcement("forward")

	assert.Equal(t, float64(2), counterValue(t, m.EnforcementDecisions, "challenge"))
	assert.Equal(t, float64(1), counterValue(t, m.EnforcementDecisions, "forward"))
}

func TestRecordMazeFallbackLabelsReasonAndAction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordMazeFallback("budget_exceeded", "block")
	assert.Equal(t, float64(1), counterValue(t, m.MazeFallbacks, "budget_exceeded", "block"))
}

func TestNopSinkNeverPanics(t *testing.T) {
	var s Sink = NopSink{}
	assert.NotPanics(t, func() { s.Emit(Event{Type: "ban"}) })
}
