package run

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/forgelabs/agentforge/internal/executor"
)

// RetryPolicy bounds transient-failure retries for stage invocations.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first.
	MaxAttempts int
	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// JitterFactor spreads delays by up to this fraction either way.
	JitterFactor float64
}

// DefaultRetryPolicy matches the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}
}

// RetryError wraps the last failure after the attempt budget is spent.
type RetryError struct {
	Operation string
	Attempts  int
	LastError error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.LastError)
}

func (e *RetryError) Unwrap() error { return e.LastError }

// retry runs fn up to the policy's attempt budget, backing off exponentially
// with jitter between tries. Only transient failures are retried; schema
// violations and other permanent errors return immediately.
func retry[T any](ctx context.Context, p RetryPolicy, operation string, fn func() (T, error)) (T, error) {
	var zero T
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}

	var lastErr error
	for attempt := 0; attempt < max; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !executor.IsTransient(err) || errors.Is(err, context.Canceled) {
			return zero, err
		}
		if attempt == max-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return zero, &RetryError{Operation: operation, Attempts: max, LastError: lastErr}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(math.Pow(2, float64(attempt))) * base

	jf := p.JitterFactor
	if jf <= 0 {
		jf = 0.1
	}
	jitter := time.Duration(rand.Float64() * float64(d) * jf)
	if rand.Float64() < 0.5 {
		d -= jitter
	} else {
		d += jitter
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
