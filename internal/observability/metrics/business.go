package metrics

import (
	"time"

	"prodscout/internal/domain/entity"
)

// RecordPostsFetched records posts emitted by the fetch stage for a source.
func RecordPostsFetched(sourceName string, sourceType entity.SourceType, count int) {
	PostsFetchedTotal.WithLabelValues(sourceName, string(sourceType)).Add(float64(count))
}

// RecordPostEnriched records one post leaving the enrich stage.
func RecordPostEnriched(duration time.Duration) {
	PostsEnrichedTotal.Inc()
	StageDuration.WithLabelValues("enrich").Observe(duration.Seconds())
}

// RecordPostOrganized records an organizer result.
// Status should be either "success" or "failure".
func RecordPostOrganized(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	PostsOrganizedTotal.WithLabelValues(status).Inc()
	StageDuration.WithLabelValues("organize").Observe(duration.Seconds())
}

// RecordPostWritten records one post persisted into a quality bucket.
func RecordPostWritten(bucket entity.Bucket) {
	PostsWrittenTotal.WithLabelValues(string(bucket)).Inc()
}

// RecordSourceError records a skipped source.
func RecordSourceError(sourceName, errorType string) {
	SourceErrorsTotal.WithLabelValues(sourceName, errorType).Inc()
}

// RecordScraperRequest records a GraphQL request outcome.
func RecordScraperRequest(endpoint, status string) {
	ScraperRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordScraperRateLimited records an HTTP 429 seen by the scraper.
func RecordScraperRateLimited() {
	ScraperRateLimitsTotal.Inc()
}

// RecordEnrichURL records one embedded URL enrichment attempt.
// Kind is "web" or "video"; status is "success" or "failure".
func RecordEnrichURL(kind string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	EnrichURLsTotal.WithLabelValues(kind, status).Inc()
}

// RecordTranscription records an end-to-end video transcription.
func RecordTranscription(duration time.Duration) {
	TranscriptionDuration.Observe(duration.Seconds())
}
