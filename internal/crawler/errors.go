package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInteraction marks a page interaction that failed or timed out. The
	// current work unit is abandoned; the worker keeps its session.
	ErrInteraction = errors.New("browser interaction failed")
	// ErrSessionFatal marks a session that can no longer be driven. The
	// owning worker releases it and exits.
	ErrSessionFatal = errors.New("browser session unusable")
	// ErrNotFound is returned when the enrichment API has no match.
	ErrNotFound = errors.New("not found")
	// ErrMalformed wraps undecodable API payloads.
	ErrMalformed = errors.New("malformed response")
)

// StatusError reports a non-2xx API response.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
