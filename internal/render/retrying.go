package render

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/retry"
)

// Retrying decorates a Renderer with a bounded retry policy. Fatal adapter
// errors are returned immediately; everything else is retried and finally
// reported as a *NavigationError carrying the attempt count.
type Retrying struct {
	next    Renderer
	policy  *retry.Policy
	logger  *zap.Logger
	onRetry func(rawURL string, attempt int, err error)
}

// RetryingOption customizes a Retrying renderer.
type RetryingOption func(*Retrying)

// OnRetry registers a hook invoked after each failed attempt that will be
// retried.
func OnRetry(fn func(rawURL string, attempt int, err error)) RetryingOption {
	return func(r *Retrying) { r.onRetry = fn }
}

// NewRetrying wraps next. The policy's retryable predicate is narrowed so
// adapter failures are never retried.
func NewRetrying(next Renderer, cfg retry.Config, logger *zap.Logger, opts []retry.Option, ropts ...RetryingOption) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	policyOpts := append(append([]retry.Option(nil), opts...), retry.WithRetryable(func(err error) bool {
		return !IsFatal(err)
	}))
	r := &Retrying{
		next:   next,
		policy: retry.New(cfg, policyOpts...),
		logger: logger,
	}
	for _, opt := range ropts {
		opt(r)
	}
	return r
}

// Render calls the wrapped renderer until it succeeds or the policy gives up.
func (r *Retrying) Render(ctx context.Context, rawURL string) (*Document, error) {
	var doc *Document
	attempts, err := r.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		d, err := r.next.Render(ctx, rawURL)
		if err != nil {
			if r.policy.ShouldRetry(err, attempt) && ctx.Err() == nil {
				r.logger.Debug("render attempt failed; retrying",
					zap.String("url", rawURL),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				if r.onRetry != nil {
					r.onRetry(rawURL, attempt, err)
				}
			}
			return err
		}
		doc = d
		return nil
	})
	if err == nil {
		return doc, nil
	}
	if IsFatal(err) {
		return nil, err
	}
	var navErr *NavigationError
	if errors.As(err, &navErr) {
		return nil, &NavigationError{URL: rawURL, Attempts: attempts, Err: navErr.Err}
	}
	return nil, &NavigationError{URL: rawURL, Attempts: attempts, Err: err}
}

// Close closes the wrapped renderer.
func (r *Retrying) Close(ctx context.Context) error {
	return r.next.Close(ctx)
}
