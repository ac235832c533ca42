package replication

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PullsTotal counts poller attempts by index and result.
	PullsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexhost",
			Subsystem: "replication",
			Name:      "pulls_total",
			Help:      "Total number of replication pulls by result",
		},
		[]string{"index", "result"},
	)

	// PullDuration tracks how long pulls take, including install.
	PullDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "indexhost",
			Subsystem: "replication",
			Name:      "pull_duration_seconds",
			Help:      "Duration of replication pulls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"index"},
	)

	// ReplicatedGeneration is the local generation of each replica index.
	ReplicatedGeneration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "indexhost",
			Subsystem: "replication",
			Name:      "generation",
			Help:      "Generation installed by the last successful pull",
		},
		[]string{"index"},
	)

	// ServerSessions is the number of open sessions on the primary.
	ServerSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "indexhost",
			Subsystem: "replication",
			Name:      "server_sessions",
			Help:      "Open replication sessions",
		},
	)

	// ServerBytesServed counts file bytes sent to replicas.
	ServerBytesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexhost",
			Subsystem: "replication",
			Name:      "server_bytes_served_total",
			Help:      "Total bytes of index files sent to replicas",
		},
		[]string{"index"},
	)
)

// Pull results used as metric labels.
const (
	resultUpdated      = "updated"
	resultUnchanged    = "unchanged"
	resultNetworkError = "network_error"
	resultApplyError   = "apply_error"
)
