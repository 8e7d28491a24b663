// Package observability wires enforcement decisions, challenge outcomes,
// and maze fallback reasons into Prometheus counters and a structured
// event log, the way the rest of this codebase surfaces operational state.
package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counter vectors the enforcement pipeline increments.
// Storage has no component of its own per the event-log Non-goal; metrics
// are the one observability surface this package actually owns.
type Metrics struct {
	EnforcementDecisions *prometheus.CounterVec
	ChallengeOutcomes    *prometheus.CounterVec
	MazeFallbacks        *prometheus.CounterVec
	BanActions           *prometheus.CounterVec
}

// NewMetrics constructs and registers the counter vectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnforcementDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgegate",
			Subsystem: "router",
			Name:      "enforcement_decisions_total",
			Help:      "Count of enforcement decisions by outcome.",
		}, []string{"decision"}),
		ChallengeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgegate",
			Subsystem: "challenge",
			Name:      "outcomes_total",
			Help:      "Count of challenge submission outcomes.",
		}, []string{"kind", "outcome"}),
		MazeFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgegate",
			Subsystem: "maze",
			Name:      "fallbacks_total",
			Help:      "Count of maze traversal fallbacks by reason and resolved action.",
		}, []string{"reason", "action"}),
		BanActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgegate",
			Subsystem: "ratelimit",
			Name:      "ban_actions_total",
			Help:      "Count of ban store mutations by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.EnforcementDecisions, m.ChallengeOutcomes, m.MazeFallbacks, m.BanActions)
	return m
}

// RecordEnforcement increments the enforcement decision counter.
func (m *Metrics) RecordEnforcement(decision string) {
	m.EnforcementDecisions.WithLabelValues(decision).Inc()
}

// RecordChallenge increments the challenge outcome counter for the given
// challenge kind ("puzzle" or "not_a_bot").
func (m *Metrics) RecordChallenge(kind, outcome string) {
	m.ChallengeOutcomes.WithLabelValues(kind, outcome).Inc()
}

// RecordMazeFallback increments the maze fallback counter.
func (m *Metrics) RecordMazeFallback(reason, action string) {
	m.MazeFallbacks.WithLabelValues(reason, action).Inc()
}

// RecordBanAction increments the ban action counter ("ban" or "unban").
func (m *Metrics) RecordBanAction(action string) {
	m.BanActions.WithLabelValues(action).Inc()
}
