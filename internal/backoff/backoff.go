// Package backoff wraps upstream provider calls with bounded retries.
//
// Retryable failures are rate limits (which may carry an explicit wait hint)
// and transient network or service errors. Everything else propagates on the
// first occurrence.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RateLimitError marks a rate-limited upstream response. RetryAfter is the
// provider-supplied wait hint; zero means no hint was given.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TransientError marks a failure worth retrying: timeouts, connection
// resets, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient upstream error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// AuthError marks an authentication or authorization failure. Never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// ExhaustedError is returned after all attempts fail with retryable errors.
// It carries the last underlying failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retryable reports whether err is a failure the controller will retry.
func Retryable(err error) bool {
	var rl *RateLimitError
	var tr *TransientError
	return errors.As(err, &rl) || errors.As(err, &tr)
}

// Policy controls the retry schedule for a single logical call.
type Policy struct {
	MaxAttempts int           // total attempts, 1 initial + (MaxAttempts-1) retries
	BaseDelay   time.Duration // first computed wait
	Multiplier  float64       // exponential growth factor
	MaxWait     time.Duration // ceiling for any single wait, hinted or computed

	// sleep is replaceable in tests to observe waits without real delay.
	sleep func(context.Context, time.Duration) error
}

// New builds a Policy with sane floors applied.
func New(maxAttempts int, baseDelay time.Duration, multiplier float64, maxWait time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if multiplier < 1 {
		multiplier = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  multiplier,
		MaxWait:     maxWait,
		sleep:       sleepCtx,
	}
}

// Do invokes op, retrying retryable failures according to the policy.
// The wait before retry N is the provider wait hint when present, otherwise
// BaseDelay * Multiplier^(N-1); either way capped at MaxWait.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; ; attempt++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !Retryable(last) {
			return last
		}
		if attempt >= p.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: last}
		}

		wait := p.waitFor(last, attempt)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (p Policy) waitFor(err error, attempt int) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return p.cap(rl.RetryAfter)
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	return p.cap(d)
}

func (p Policy) cap(d time.Duration) time.Duration {
	if p.MaxWait > 0 && d > p.MaxWait {
		return p.MaxWait
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
