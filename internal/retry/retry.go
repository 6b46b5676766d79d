// Package retry runs an operation under an exponential or linear backoff schedule.
package retry

import (
	"context"
	"time"
)

// Policy configures retries. Zero values fall back to 3 attempts, 2s initial
// delay and a multiplier of 2.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
	// Linear waits InitialDelay*n before attempt n+1 and ignores Multiplier.
	Linear bool
	// Retryable decides whether err warrants another attempt. Nil retries nothing.
	Retryable func(err error) bool
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns the gateway policy: 3 attempts, 2s, doubling.
func Default(retryable func(error) bool) Policy {
	return Policy{Attempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2, Retryable: retryable}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 2 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Delay returns the wait before attempt n+1, where n counts from 1.
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	if p.Linear {
		return time.Duration(n) * p.InitialDelay
	}
	d := float64(p.InitialDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a non-retryable error or attempts run out.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == p.Attempts || p.Retryable == nil || !p.Retryable(err) {
			break
		}
		d := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, d, err)
		}
		if serr := p.Sleep(ctx, d); serr != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// SleepContext waits for d or ctx cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
