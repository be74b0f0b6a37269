// Package metrics exposes Prometheus collectors for load cycles and match
// quality. Collectors are package-level and registered once via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoadCycles counts load attempts per layer. result is one of
	// "reloaded", "fresh", "error".
	LoadCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m3u_epg_load_cycles_total",
		Help: "Load attempts per data layer and outcome.",
	}, []string{"layer", "result"})

	// SourceErrors counts guide sources excluded from a merge.
	SourceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m3u_epg_guide_source_errors_total",
		Help: "Guide sources that failed to load or carried no usable data.",
	})

	// MatchConfidence observes the confidence score of each matched catalog
	// channel after a reload.
	MatchConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "m3u_epg_match_confidence",
		Help:    "Fuzzy-match confidence per matched channel.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	// CatalogChannels is the channel count after deduplication.
	CatalogChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "m3u_epg_catalog_channels",
		Help: "Channels in the loaded catalog.",
	})

	// CatalogMatched is how many catalog channels carry a station code.
	CatalogMatched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "m3u_epg_catalog_matched_channels",
		Help: "Catalog channels with an assigned station code.",
	})
)

// Handler returns the exposition endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
