package watch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh results.
const (
	ResultRefreshed = "refreshed"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
)

// RefreshesTotal counts refreshes triggered by commit point changes.
var RefreshesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "indexhost",
		Subsystem: "watch",
		Name:      "refreshes_total",
		Help:      "Total number of watcher-triggered reader refreshes by result",
	},
	[]string{"index", "result"},
)
