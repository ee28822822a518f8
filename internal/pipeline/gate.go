package pipeline

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for pacing.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Gate enforces a minimum interval between the completion of one request and
// the start of the next. Concurrent callers queue behind one another, each
// reserving the next free slot.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	clock    Clock
	last     time.Time
}

// NewGate builds a Gate. An interval <= 0 admits every caller immediately.
func NewGate(interval time.Duration, clock Clock) *Gate {
	return &Gate{interval: interval, clock: clock}
}

// Wait blocks until the caller may start a request.
func (g *Gate) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	now := g.clock.Now()
	at := now
	if !g.last.IsZero() && g.interval > 0 {
		if next := g.last.Add(g.interval); next.After(at) {
			at = next
		}
	}
	g.last = at
	g.mu.Unlock()
	if wait := at.Sub(now); wait > 0 {
		return g.clock.Sleep(ctx, wait)
	}
	return nil
}

// Done records that the admitted request finished; the next interval counts
// from now.
func (g *Gate) Done() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now := g.clock.Now(); now.After(g.last) {
		g.last = now
	}
}
