package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline error taxonomy. Stages wrap these with
// %w so callers can classify failures with errors.Is.
var (
	// ErrConfig indicates malformed or missing configuration. Fatal; the
	// run aborts before any stage starts.
	ErrConfig = errors.New("configuration error")

	// ErrSource indicates that a single source failed to fetch or parse.
	// The source is skipped, other sources continue.
	ErrSource = errors.New("source error")

	// ErrRateLimited indicates a credential exhausted its quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthFailure indicates a credential is invalid or expired.
	ErrAuthFailure = errors.New("auth failure")

	// ErrCircuitOpen indicates all scraper credentials are failing and the
	// circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrEnrich indicates a single URL or video enrichment failed.
	ErrEnrich = errors.New("enrich error")

	// ErrLLM indicates an LLM call failed after retries.
	ErrLLM = errors.New("llm error")

	// ErrWrite indicates a disk write failed.
	ErrWrite = errors.New("write error")
)

// ErrorKind returns the taxonomy name for err, or "unknown" when the error
// does not wrap one of the pipeline sentinels. The writer records this in
// the per-run error log.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrSource):
		return "SourceError"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	case errors.Is(err, ErrAuthFailure):
		return "AuthFailure"
	case errors.Is(err, ErrCircuitOpen):
		return "CircuitOpen"
	case errors.Is(err, ErrEnrich):
		return "EnrichError"
	case errors.Is(err, ErrLLM):
		return "LLMError"
	case errors.Is(err, ErrWrite):
		return "WriteError"
	default:
		return "unknown"
	}
}

// ValidationError reports a field that failed ingress validation. Unknown
// or missing required fields at ingress fail loudly rather than being
// silently dropped.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Validate checks the invariants a post must satisfy before entering the
// first queue.
func (p *Post) Validate() error {
	if p.Link == "" {
		return &ValidationError{Field: "link", Message: "must not be empty"}
	}
	if !p.SourceType.Valid() {
		return &ValidationError{Field: "source_type", Message: fmt.Sprintf("unknown source type %q", p.SourceType)}
	}
	if p.SourceName == "" {
		return &ValidationError{Field: "source_name", Message: "must not be empty"}
	}
	return nil
}
