// Package metrics defines the Prometheus collectors for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed turns by outcome.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solcredito",
		Name:      "turns_total",
		Help:      "Completed conversation turns by outcome.",
	}, []string{"outcome"})

	// TurnDuration observes end-to-end turn latency.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "solcredito",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// SpecialistRuns counts specialist invocations by specialist and result.
	SpecialistRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solcredito",
		Name:      "specialist_runs_total",
		Help:      "Specialist invocations by specialist and result.",
	}, []string{"specialist", "result"})

	// RoutingHops observes how many specialist hops a turn took.
	RoutingHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "solcredito",
		Name:      "routing_hops",
		Help:      "Specialist hops per turn.",
		Buckets:   []float64{1, 2, 3, 4, 5, 6},
	})

	// GateDowngrades counts underwriting handoffs silently downgraded because
	// the gate was not satisfied.
	GateDowngrades = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solcredito",
		Name:      "gate_downgrades_total",
		Help:      "Underwriting handoffs downgraded to end of turn by the gate.",
	})

	// OffersGenerated counts loan offers produced by underwriting.
	OffersGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solcredito",
		Name:      "offers_generated_total",
		Help:      "Loan offers produced by underwriting.",
	})

	// PersistFailures counts persistence writes that had to be queued for retry.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solcredito",
		Name:      "persist_failures_total",
		Help:      "Persistence writes deferred to the retry queue.",
	}, []string{"op"})

	// ModelRequests counts upstream model calls by outcome.
	ModelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solcredito",
		Name:      "model_requests_total",
		Help:      "Upstream model calls by outcome.",
	}, []string{"outcome"})

	// ModelTokens counts tokens exchanged with the model.
	ModelTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solcredito",
		Name:      "model_tokens_total",
		Help:      "Tokens exchanged with the model by direction.",
	}, []string{"direction"})
)
