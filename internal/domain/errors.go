package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrAccountNotFound is returned when an account cannot be found in the database
	ErrAccountNotFound = errors.New("account not found")

	// ErrJobInProgress is returned when a delivery targets a job another worker holds
	ErrJobInProgress = errors.New("job is already being processed")

	// ErrJobFinished is returned when a delivery targets a job in a terminal state
	ErrJobFinished = errors.New("job already reached a terminal state")

	// ErrLeaseLost is returned when another worker reclaimed a job mid-processing
	ErrLeaseLost = errors.New("job lease held by another worker")

	// ErrInvalidTransition is returned when a state update would leave a terminal state
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrInvalidPayload is returned when a delivery message is malformed
	ErrInvalidPayload = errors.New("invalid job payload")
)

// RetryableError wraps transient errors that should trigger a redelivery
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
