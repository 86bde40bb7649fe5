// Package retry provides jittered exponential backoff for upstream calls.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/seo-audit-worker/internal/failure"
)

// Policy decides whether and when to retry.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialPolicy retries transient failures with jittered backoff.
type ExponentialPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewExponentialPolicy builds a policy allowing maxAttempts total attempts.
func NewExponentialPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &ExponentialPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: maxDelay}
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	return failure.IsTransient(err)
}

// Backoff returns the wait duration before the attempt after the given one.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Sleeper waits between attempts.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep waits for d or until ctx ends.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds or the policy gives up, returning the last
// error and the number of attempts made.
func Do(ctx context.Context, policy Policy, sleep Sleeper, fn func(ctx context.Context, attempt int) error) (int, error) {
	if sleep == nil {
		sleep = ContextSleep
	}
	attempt := 0
	for {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if policy == nil || !policy.ShouldRetry(err, attempt) {
			return attempt, err
		}
		if sleepErr := sleep(ctx, policy.Backoff(attempt)); sleepErr != nil {
			return attempt, err
		}
	}
}
