package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountintel_turns_started_total",
			Help: "Total number of turn workflows started",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountintel_turns_completed_total",
			Help: "Total number of turn workflows completed",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "accountintel_turn_duration_seconds",
			Help:    "Turn processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Source query metrics
	SourceQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountintel_source_queries_total",
			Help: "Source adapter calls by source and outcome",
		},
		[]string{"source", "status"},
	)

	SourceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accountintel_source_query_duration_seconds",
			Help:    "Source adapter call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	SourceResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accountintel_source_results",
			Help:    "Results returned per source call",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
		[]string{"source"},
	)

	// Fallback negotiation metrics
	FallbackNegotiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountintel_fallback_negotiations_total",
			Help: "Fallback negotiations by terminal outcome",
		},
		[]string{"outcome"},
	)

	FallbackApprovalWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "accountintel_fallback_approval_wait_seconds",
			Help:    "Time spent waiting for a fallback approval decision",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountintel_sessions_created_total",
			Help: "Conversation sessions created",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountintel_session_cache_hits_total",
			Help: "Session lookups served from the local cache",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountintel_session_cache_misses_total",
			Help: "Session lookups that fell through to Redis",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accountintel_session_cache_size",
			Help: "Sessions held in the local cache",
		},
	)
)
