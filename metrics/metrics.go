// Package metrics exposes the process-wide prometheus collectors for
// the coordinator and participant engines, registered against a
// dedicated prometheus.Registry and served at GET /metrics.
//
// Grounded on the package-level CounterVec/HistogramVec declarations in
// _examples/talent-plan-tinykv/scheduler/server/metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twopc",
			Subsystem: "participant",
			Name:      "votes_total",
			Help:      "Count of prepare votes cast, by decision.",
		}, []string{"decision"})

	LockConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "twopc",
			Subsystem: "participant",
			Name:      "lock_conflicts_total",
			Help:      "Count of prepare calls that failed due to a lock conflict.",
		})

	PrepareDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "twopc",
			Subsystem: "participant",
			Name:      "prepare_duration_seconds",
			Help:      "Time spent handling a single prepare call.",
			Buckets:   prometheus.DefBuckets,
		})

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twopc",
			Subsystem: "coordinator",
			Name:      "transactions_total",
			Help:      "Count of coordinator transactions, by final outcome.",
		}, []string{"outcome"})

	CommitRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "twopc",
			Subsystem: "coordinator",
			Name:      "commit_retries_total",
			Help:      "Count of commit dispatch retries due to transport errors.",
		})
)

// Registry returns a fresh prometheus.Registry with every collector
// above registered, suitable for one process (coordinator or
// participant) to serve at GET /metrics.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		VotesTotal,
		LockConflictsTotal,
		PrepareDurationSeconds,
		TransactionsTotal,
		CommitRetriesTotal,
	)
	return r
}
