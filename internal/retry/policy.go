// Package retry provides a bounded, jittered exponential backoff policy for
// calls against flaky collaborators such as the browser renderer.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Config captures the knobs of a Policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Policy decides whether and when a failed attempt is retried.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	retryable   func(error) bool
	sleep       func(context.Context, time.Duration) error
}

// Option customizes a Policy.
type Option func(*Policy)

// WithRetryable overrides which errors are worth another attempt.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		if fn != nil {
			p.retryable = fn
		}
	}
}

// WithSleep replaces the backoff sleeper, mostly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Policy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// New builds a policy. Zero values fall back to 3 attempts with a 250ms base
// and a 5s cap.
func New(cfg Config, opts ...Option) *Policy {
	p := &Policy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		retryable:   func(error) bool { return true },
		sleep:       sleepCtx,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 250 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 5 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts reports the attempt budget.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error from attempt (1-based) is retried.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return p.retryable(err)
}

// Backoff returns the wait before the attempt following attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Do runs fn until it succeeds, the error is not retryable, the attempt budget
// is spent, or ctx ends. It returns the number of attempts made and the last
// error.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil || !p.ShouldRetry(err, attempt) {
			return attempt, err
		}
		if serr := p.sleep(ctx, p.Backoff(attempt)); serr != nil {
			return attempt, fmt.Errorf("retry backoff: %w", errors.Join(err, serr))
		}
	}
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

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
