package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RankJobRuns counts aggregation runs by result (success, failure, skipped).
	RankJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runnersmap_rank_job_runs_total",
		Help: "Total number of monthly rank aggregation runs by result",
	}, []string{"result"})

	// RankJobDuration records how long a full aggregation takes.
	RankJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runnersmap_rank_job_duration_seconds",
		Help:    "Duration of monthly rank aggregation runs in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// RankedUsers is the number of rank rows written by the last successful run.
	RankedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runnersmap_ranked_users",
		Help: "Number of users ranked by the last successful aggregation",
	})

	// SessionTransitions counts committed lifecycle transitions.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runnersmap_session_transitions_total",
		Help: "Total number of committed run session transitions by type",
	}, []string{"transition"})

	// SearchResults records how many posts a map search returned.
	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runnersmap_search_results",
		Help:    "Number of posts returned per map search",
		Buckets: []float64{0, 1, 2, 5, 10, 15, 20},
	})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runnersmap_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// Transition labels.
const (
	TransitionJoin     = "join"
	TransitionLeave    = "leave"
	TransitionStart    = "start"
	TransitionFinish   = "finish"
	TransitionDeparted = "post_departed"
	TransitionArrived  = "post_arrived"
)

// RecordTransition increments the transition counter.
func RecordTransition(transition string) {
	SessionTransitions.WithLabelValues(transition).Inc()
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// ObserveRankJob records the outcome of one aggregation run.
func ObserveRankJob(result string, started time.Time, ranked int) {
	RankJobRuns.WithLabelValues(result).Inc()
	RankJobDuration.Observe(time.Since(started).Seconds())
	if result == "success" {
		RankedUsers.Set(float64(ranked))
	}
}
