package xclient

import (
	"fmt"
	"time"

	"prodscout/internal/domain/entity"
)

// XClientError is a business-level error returned by the GraphQL endpoint
// inside an HTTP 200 response (an "errors" array with no "data").
type XClientError struct {
	Endpoint string
	Message  string
}

func (e *XClientError) Error() string {
	return fmt.Sprintf("x graphql %s: %s", e.Endpoint, e.Message)
}

// rateLimitError is returned by a single request attempt when the edge
// answers HTTP 429. RetryAfter already has the 900 s default applied when
// the header was absent or malformed.
type rateLimitError struct {
	RetryAfter time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", entity.ErrRateLimited, e.RetryAfter)
}

func (e *rateLimitError) Unwrap() error { return entity.ErrRateLimited }

// authError is returned on HTTP 401/403. The offending credential is
// disabled and never retried.
type authError struct {
	StatusCode int
}

func (e *authError) Error() string {
	return fmt.Sprintf("%v: HTTP %d", entity.ErrAuthFailure, e.StatusCode)
}

func (e *authError) Unwrap() error { return entity.ErrAuthFailure }
