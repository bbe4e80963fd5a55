package llm

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds retry configuration for LLM requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per call.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for LLM requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// policy builds the backoff schedule. Elapsed time is not capped; the
// attempt count and the request context bound the retries.
func (r RetryConfig) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BackoffBase
	b.Multiplier = r.BackoffMultiplier
	b.MaxInterval = r.MaxBackoff
	b.MaxElapsedTime = 0

	retries := r.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}
