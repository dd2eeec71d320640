package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIntent is returned by Reserve when the idempotency key is
	// already held by a Reserved or Committed record. Callers must treat
	// this as "already handled", not as a failure to surface.
	ErrDuplicateIntent = errors.New("duplicate transfer intent")

	// ErrUnknownRecord is returned by Commit/Fail/Abandon when no Reserved
	// record exists for the key. It indicates a logic error upstream.
	ErrUnknownRecord = errors.New("no reserved record for key")

	// ErrRecordNotFound is returned by Get when the key has never been seen.
	ErrRecordNotFound = errors.New("transfer record not found")

	// ErrStaleSnapshot is returned when a balance snapshot is too old or
	// flagged stale to base a reconciliation decision on.
	ErrStaleSnapshot = errors.New("balance snapshot is stale")
)

// FailureKind classifies an external API failure so callers can choose
// between retry, fail-fast and stale-retain.
type FailureKind string

const (
	// FailureTransient covers retryable failures with a known outcome:
	// the request did not take effect (e.g. 5xx with a response body).
	FailureTransient FailureKind = "TRANSIENT"

	// FailureRateLimited means the API asked us to back off (429).
	FailureRateLimited FailureKind = "RATE_LIMITED"

	// FailureUnauthorized means credentials were rejected (401/403).
	FailureUnauthorized FailureKind = "UNAUTHORIZED"

	// FailureUnavailable means the service could not be reached at all.
	FailureUnavailable FailureKind = "UNAVAILABLE"

	// FailureDefinitive means the request was definitively rejected
	// (insufficient funds, invalid destination) and must not be retried.
	FailureDefinitive FailureKind = "DEFINITIVE"

	// FailureAmbiguous means the outcome is unknown (timeout before a
	// response). The system must never guess whether the call succeeded.
	FailureAmbiguous FailureKind = "AMBIGUOUS"
)

// APIError wraps a failure from an external API with its classification.
type APIError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be retried with backoff.
// Ambiguous failures are retryable because the transfer API dedups on the
// client idempotency key, making a repeat attempt safe.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case FailureTransient, FailureRateLimited, FailureUnavailable, FailureAmbiguous:
		return true
	default:
		return false
	}
}

// Ambiguous reports whether the outcome of the call is unknown.
func (e *APIError) Ambiguous() bool {
	return e.Kind == FailureAmbiguous
}

// APIErrorFromStatus classifies an HTTP response status into the failure
// taxonomy. 4xx statuses other than auth and rate-limit problems are
// definitive rejections: the request was understood and refused, so a
// retry cannot change the outcome.
func APIErrorFromStatus(status int, message string) *APIError {
	kind := FailureDefinitive
	switch {
	case status == 401 || status == 403:
		kind = FailureUnauthorized
	case status == 429:
		kind = FailureRateLimited
	case status >= 500:
		kind = FailureTransient
	}
	return &APIError{Kind: kind, StatusCode: status, Message: message}
}

// ClassifyError extracts the failure kind from an error chain. Errors that
// are not APIErrors are treated as ambiguous: without a classified response
// we cannot know whether the request took effect.
func ClassifyError(err error) FailureKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return FailureAmbiguous
}
