package dispatch

import "time"

// Default delivery retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 10 * time.Second
)

// RetryPolicy bounds redeliveries of a message after transient failures
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// CanRetry reports whether a delivery that failed on attempt may be retried.
func (p RetryPolicy) CanRetry(attempt int) bool {
	return attempt < p.withDefaults().MaxAttempts
}

// Backoff returns the delay before the delivery following attempt:
// base, 2*base, 4*base, ...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	// cap the shift; attempts are small in practice
	if attempt > 16 {
		attempt = 16
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt-1))
}
