// Package metrics provides centralized Prometheus metrics for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics track per-stage throughput and latency.
var (
	// PostsFetchedTotal counts posts emitted by the fetch stage per source.
	PostsFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posts_fetched_total",
			Help: "Total number of posts emitted by the fetch stage",
		},
		[]string{"source_name", "source_type"},
	)

	// PostsEnrichedTotal counts posts processed by the enrich stage.
	PostsEnrichedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posts_enriched_total",
			Help: "Total number of posts processed by the enrich stage",
		},
	)

	// PostsOrganizedTotal counts organizer results by status.
	PostsOrganizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posts_organized_total",
			Help: "Total number of posts classified by the organizer",
		},
		[]string{"status"},
	)

	// PostsWrittenTotal counts written posts by quality bucket.
	PostsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posts_written_total",
			Help: "Total number of posts persisted by the writer",
		},
		[]string{"bucket"},
	)

	// StageDuration measures per-item stage latency in seconds.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stage_duration_seconds",
			Help:    "Per-item processing duration by pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"stage"},
	)

	// SourceErrorsTotal counts skipped sources by error type.
	SourceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_errors_total",
			Help: "Total number of source fetch failures",
		},
		[]string{"source_name", "error_type"},
	)
)

// Scraper metrics track the microblog direct scraper.
var (
	// ScraperRequestsTotal counts GraphQL requests by outcome.
	ScraperRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "x_scraper_requests_total",
			Help: "Total number of GraphQL requests issued by the scraper",
		},
		[]string{"endpoint", "status"},
	)

	// ScraperRateLimitsTotal counts rate-limit responses per credential slot.
	ScraperRateLimitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "x_scraper_rate_limits_total",
			Help: "Total number of HTTP 429 responses seen by the scraper",
		},
	)

	// ScraperCredentialsDisabled tracks permanently disabled credentials.
	ScraperCredentialsDisabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "x_scraper_credentials_disabled",
			Help: "Number of credentials disabled after auth failures",
		},
	)
)

// Enrichment metrics.
var (
	// EnrichURLsTotal counts per-URL enrichment attempts by outcome.
	EnrichURLsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_urls_total",
			Help: "Total number of embedded URL enrichment attempts",
		},
		[]string{"kind", "status"},
	)

	// TranscriptionDuration measures end-to-end video transcription time.
	TranscriptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_transcription_duration_seconds",
			Help:    "End-to-end video transcription duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)
