package analysis

import (
	"errors"
	"fmt"
)

// Validation errors: rejected before queuing, never persisted.
var (
	ErrUnsupportedEntityKind = errors.New("unsupported entity kind")
	ErrInvalidEntityRef      = errors.New("invalid entity reference")
	ErrEmptyDocument         = errors.New("document is empty")
)

// ErrNoDocuments indicates an explicit analyze call for an entity with no
// stored quality documents.
var ErrNoDocuments = errors.New("no quality documents stored for entity")

// ErrBackpressure indicates the request queue refused a submission.
var ErrBackpressure = errors.New("analysis queue is full")

// ErrStillPending is returned to a wait-mode caller whose timeout elapsed
// before the worker resolved the result. The analysis itself keeps running.
var ErrStillPending = errors.New("analysis still pending")

// ErrNotFound indicates no analysis record exists for the given id.
var ErrNotFound = errors.New("analysis not found")

// ErrResultNotRecorded tags a failure where the provider answered but the
// result could not be persisted after bounded retries.
var ErrResultNotRecorded = errors.New("result not recorded")

// FailureKind classifies provider errors for the retry policy.
type FailureKind int

const (
	// FailureTransient covers timeouts, 5xx and rate limits; retried.
	FailureTransient FailureKind = iota
	// FailurePermanent covers validation/unsupported-format rejections and
	// unparseable responses; never retried.
	FailurePermanent
)

// ProviderError wraps a provider failure with its retry classification.
type ProviderError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == FailureTransient
	}
	return false
}
