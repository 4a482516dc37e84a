// Package metrics registers the Prometheus collectors for scraping, geocoding and backfill.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GeocodeRequests counts provider calls by outcome (matched, no_match, error).
	GeocodeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jecc_geocode_requests_total",
			Help: "Geocoding provider requests by outcome",
		},
		[]string{"outcome"},
	)

	// GeocodeResolutions counts per-address resolutions by tier.
	GeocodeResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jecc_geocode_resolutions_total",
			Help: "Address resolutions by approximation tier",
		},
		[]string{"tier"},
	)

	// GeocodeLatency observes provider round-trip time.
	GeocodeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jecc_geocode_request_duration_seconds",
			Help:    "Geocoding provider request latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	// SourceFetches counts upstream page fetches by outcome.
	SourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jecc_source_fetches_total",
			Help: "Dispatch log page fetches by outcome",
		},
		[]string{"outcome"},
	)

	// IngestRows counts parsed rows by result (inserted, updated, reused_geocode).
	IngestRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jecc_ingest_rows_total",
			Help: "Ingested log rows by result",
		},
		[]string{"result"},
	)

	// IngestDays counts processed days by outcome (ok, source_unavailable, persist_failed).
	IngestDays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jecc_ingest_days_total",
			Help: "Ingested days by outcome",
		},
		[]string{"outcome"},
	)

	// BackfillAddresses counts backfill addresses by outcome (success, failed, skipped).
	BackfillAddresses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jecc_backfill_addresses_total",
			Help: "Backfill addresses by outcome",
		},
		[]string{"outcome"},
	)

	// BackfillCheckpoint is the last persisted checkpoint.
	BackfillCheckpoint = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jecc_backfill_checkpoint",
			Help: "Highest log id processed by the backfill scheduler",
		},
	)

	// CacheInvalidations counts cache prefix invalidations by outcome.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jecc_cache_invalidations_total",
			Help: "Read cache invalidations by outcome",
		},
		[]string{"outcome"},
	)
)
