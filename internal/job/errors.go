package job

import "errors"

var (
	// ErrNotFound is returned when a job cannot be found in the store.
	ErrNotFound = errors.New("job not found")

	// ErrNotClaimable is returned when a claim races another worker or
	// arrives after the job reached a terminal status. The delivery is
	// acknowledged without executing.
	ErrNotClaimable = errors.New("job not claimable")

	// ErrStaleOutcome is returned for duplicate or out-of-date outcome
	// reports. Callers treat it as a no-op.
	ErrStaleOutcome = errors.New("stale or duplicate outcome")

	// ErrNotCancelable is returned when cancellation is requested for a
	// job that already started or already finished.
	ErrNotCancelable = errors.New("job cannot be canceled")
)

// RetryableError wraps transient processing failures that go through
// the retry policy instead of failing the job terminally.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
