package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReaderRefreshesTotal counts singleton reader swaps to a newer generation.
	ReaderRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexhost",
			Subsystem: "registry",
			Name:      "reader_refreshes_total",
			Help:      "Total number of singleton reader refreshes to a newer generation",
		},
		[]string{"index"},
	)

	// ReaderGeneration is the generation served by the singleton reader.
	ReaderGeneration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "indexhost",
			Subsystem: "registry",
			Name:      "reader_generation",
			Help:      "Generation currently served by the singleton reader",
		},
		[]string{"index"},
	)

	// SearcherBuildsTotal counts singleton searcher (re)builds.
	SearcherBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexhost",
			Subsystem: "registry",
			Name:      "searcher_builds_total",
			Help:      "Total number of singleton searcher builds",
		},
		[]string{"index"},
	)

	// WriterOpensTotal counts write handles opened, by lifetime and status.
	WriterOpensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexhost",
			Subsystem: "registry",
			Name:      "writer_opens_total",
			Help:      "Total number of write handle open attempts",
		},
		[]string{"index", "lifetime", "status"},
	)
)
