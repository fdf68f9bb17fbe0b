package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors
var (
	// ErrNotFound is returned when an entity does not exist or is no longer
	// in a state where the requested operation applies (e.g. cancelling an
	// item that has already been dispatched).
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidSchedule is returned when a caller submits a content item
	// with a malformed target time, priority, or content type. Not retried.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrPermanentPublish is returned when the platform rejects a publish in
	// a way that retrying cannot fix (malformed content, dead channel).
	ErrPermanentPublish = errors.New("permanent publish failure")

	// ErrRetriesExhausted is returned when the publish retry budget is spent.
	ErrRetriesExhausted = errors.New("publish retries exhausted")

	// ErrInsufficientSamples signals that an experiment cannot conclude yet.
	// It is a deferral, not a failure: callers simply evaluate again later.
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrAlreadyConcluded is returned when mutating a concluded experiment.
	ErrAlreadyConcluded = errors.New("experiment already concluded")

	// ErrEscalationRequired signals an engagement event that must be routed
	// to a human and is never auto-resolved.
	ErrEscalationRequired = errors.New("escalation required")
)

// RateLimitedError is returned when the platform rejects a send because the
// channel's rate ceiling was hit. It is retryable with backoff.
type RateLimitedError struct {
	Channel    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited on channel %s, retry after %s", e.Channel, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited on channel %s", e.Channel)
}

// IsRateLimited reports whether err is (or wraps) a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// PartialMetricsFailure is returned by a collection pass when one or more
// sources failed but the aggregate was still computed from the rest.
// The aggregate's confidence is degraded by the missing weight mass.
type PartialMetricsFailure struct {
	PostID        string
	FailedSources []string
}

func (e *PartialMetricsFailure) Error() string {
	return fmt.Sprintf("partial metrics failure for post %s: sources [%s] failed",
		e.PostID, strings.Join(e.FailedSources, ", "))
}
