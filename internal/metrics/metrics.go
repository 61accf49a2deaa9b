// Package metrics exposes Prometheus collectors for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts completed repository operations by kind and outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediary",
		Name:      "operations_total",
		Help:      "Completed repository operations by kind and outcome.",
	}, []string{"operation", "entity_type", "outcome"})

	// OperationDuration observes end-to-end operation latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediary",
		Name:      "operation_duration_seconds",
		Help:      "End-to-end repository operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "entity_type"})

	// CacheHits counts cache gateway hits and misses.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediary",
		Name:      "cache_requests_total",
		Help:      "Cache gateway lookups by result.",
	}, []string{"entity_type", "result"})

	// VersionsCreated counts version snapshots taken on update.
	VersionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediary",
		Name:      "versions_created_total",
		Help:      "Version snapshots written.",
	}, []string{"entity_type"})

	// SyncFailures counts failed fan-out deliveries to sync targets.
	SyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediary",
		Name:      "sync_failures_total",
		Help:      "Failed fan-out deliveries by target data source.",
	}, []string{"entity_type", "target"})

	// JanitorPruned counts snapshots removed by retention sweeps.
	JanitorPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediary",
		Name:      "janitor_pruned_total",
		Help:      "Snapshots removed by retention sweeps.",
	}, []string{"kind"})
)

// RecordCacheResult tallies one cache lookup.
func RecordCacheResult(entityType string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheHits.WithLabelValues(entityType, result).Inc()
}
