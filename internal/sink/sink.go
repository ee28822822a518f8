// Package sink delivers a finished run's records to its outputs. Each output
// is a Sink; the Dispatcher runs them in order and collects failures so one
// broken destination never prevents the others from receiving the data.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/profile"
)

// Sink persists a record collection. Write must not modify records.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []profile.Record) error
}

// Closer is implemented by sinks that hold connections.
type Closer interface {
	Close() error
}

// Error reports one sink that failed.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dispatcher fans records out to sinks sequentially.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout bounds each sink's Write. Zero means no bound.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher builds a Dispatcher over sinks. Nil sinks are ignored.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{logger: zap.NewNop()}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Names lists the configured sinks in dispatch order.
func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		out = append(out, s.Name())
	}
	return out
}

// Dispatch writes records to every sink and returns the failures, in sink
// order. A nil result means every sink succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, records []profile.Record) []*Error {
	var failures []*Error
	for _, s := range d.sinks {
		start := time.Now()
		err := d.write(ctx, s, records)
		if err != nil {
			d.logger.Error("sink failed", zap.String("sink", s.Name()), zap.Int("records", len(records)), zap.Error(err))
			failures = append(failures, &Error{Sink: s.Name(), Err: err})
			continue
		}
		d.logger.Info("sink written",
			zap.String("sink", s.Name()),
			zap.Int("records", len(records)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return failures
}

func (d *Dispatcher) write(ctx context.Context, s Sink, records []profile.Record) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Write(ctx, records)
}

// Close releases every sink that holds resources.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		c, ok := s.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Join folds failures into one error, or nil when there are none.
func Join(failures []*Error) error {
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}
