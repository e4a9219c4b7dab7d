// Package metrics exposes Prometheus instrumentation for the approval engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus collectors are package-level by convention
var (
	// ReconcilesTotal counts reconcile attempts by outcome
	// (decided, deferred, failed, conflict_retry, stale, skipped).
	ReconcilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approver_reconciles_total",
		Help: "Reconcile attempts by outcome.",
	}, []string{"outcome"})

	// DecisionsTotal counts decisions by verdict.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approver_decisions_total",
		Help: "Decisions produced by the engine, by verdict.",
	}, []string{"verdict"})

	// PatchConflictsTotal counts optimistic-concurrency conflicts on apply.
	PatchConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "approver_patch_conflicts_total",
		Help: "Conditional updates rejected due to version token mismatch.",
	})

	// EvidenceDispatchesTotal counts evidence dispatches by capability and status.
	EvidenceDispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approver_evidence_dispatches_total",
		Help: "Evidence dispatches by capability and result status.",
	}, []string{"capability", "status"})

	// ModelLatency observes model-inference round-trip latency.
	ModelLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "approver_model_latency_seconds",
		Help:    "Model inference latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// RewardSamplesTotal counts emitted reward samples by agreement.
	RewardSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approver_reward_samples_total",
		Help: "Reward samples emitted, by agreement.",
	}, []string{"agreement"})
)

// ObserveModelCall records one model round trip.
func ObserveModelCall(start time.Time) {
	ModelLatency.Observe(time.Since(start).Seconds())
}
