package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Create a custom registry
var registry = prometheus.NewRegistry()

// Create a registerer that uses our registry
var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	// CacheOperations counts every round-trip against the backing store.
	// result is one of "hit", "miss", "ok", "dropped", "error".
	CacheOperations = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "buzznob_cache_operations_total",
			Help: "Cache store operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// InvalidationRuns counts refresh/invalidate executions per event.
	InvalidationRuns = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "buzznob_invalidation_runs_total",
			Help: "Invalidation route executions by event and result",
		},
		[]string{"event", "result"},
	)

	// LockAcquisitions counts lease acquisition attempts.
	// result is one of "acquired", "contended", "error".
	LockAcquisitions = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "buzznob_lock_acquisitions_total",
			Help: "Distributed lock acquisition attempts by key and result",
		},
		[]string{"lock_key", "result"},
	)

	// ScheduledRuns counts task firings. result is one of "ran",
	// "skipped", "error".
	ScheduledRuns = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "buzznob_scheduled_runs_total",
			Help: "Scheduled task firings by task and result",
		},
		[]string{"task", "result"},
	)

	// ScheduledRunDuration observes task body runtime in milliseconds;
	// useful for sizing lock TTLs against real run times.
	ScheduledRunDuration = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buzznob_scheduled_run_duration_ms",
			Help:    "Scheduled task body duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"task"},
	)
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Registry returns the registry backing the /metrics endpoint.
func Registry() *prometheus.Registry {
	return registry
}
