// Package metrics exposes the agent's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts gossip events accepted into the local graph.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memberd_events_total",
		Help: "Gossip events accepted into the local graph by origin",
	}, []string{"origin"})

	// DecisionsTotal counts membership decisions applied.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memberd_decisions_total",
		Help: "Membership observations decided and applied by kind",
	}, []string{"kind"})

	// GroupSize tracks the size of the effective member group.
	GroupSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memberd_group_size",
		Help: "Current number of effective group members",
	})

	// FailuresTotal counts peers the local failure detector gave up on.
	FailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memberd_failures_total",
		Help: "Peers declared dead by the local failure detector",
	})

	// GossipExchanges counts outbound gossip round-trips by result.
	GossipExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memberd_gossip_exchanges_total",
		Help: "Outbound gossip exchanges by result",
	}, []string{"result"})

	// GossipLatency observes the round-trip latency of gossip exchanges.
	GossipLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memberd_gossip_latency_seconds",
		Help:    "Round-trip latency of gossip exchanges",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)

// RecordEvent counts one accepted event.
func RecordEvent(origin string) {
	EventsTotal.WithLabelValues(origin).Inc()
}

// RecordDecision counts one applied membership decision.
func RecordDecision(kind string) {
	DecisionsTotal.WithLabelValues(kind).Inc()
}

// RecordGroupSize updates the group size gauge.
func RecordGroupSize(n int) {
	GroupSize.Set(float64(n))
}

// RecordGossip counts one outbound exchange and its latency.
func RecordGossip(err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GossipExchanges.WithLabelValues(result).Inc()
	GossipLatency.Observe(elapsed.Seconds())
}
