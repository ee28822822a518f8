package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/directory-scraper/internal/progress"
)

// RunStatus is the coarse state of a run as seen by the tracker.
type RunStatus string

// Run states.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Snapshot is the latest known state of one run.
type Snapshot struct {
	RunID        uuid.UUID `json:"run_id"`
	Status       RunStatus `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	PageFailures int       `json:"page_failures"`
	LastURL      string    `json:"last_url,omitempty"`
	Note         string    `json:"note,omitempty"`
}

// Tracker keeps an in-memory snapshot per run for the status API.
type Tracker struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*Snapshot
	limit int
}

// NewTracker keeps at most limit runs, evicting the oldest finished ones
// first. A limit <= 0 keeps 16.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 16
	}
	return &Tracker{runs: make(map[uuid.UUID]*Snapshot), limit: limit}
}

// Consume folds the batch into the snapshots.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		snap, ok := t.runs[evt.RunID]
		if !ok {
			snap = &Snapshot{RunID: evt.RunID, Status: RunRunning, StartedAt: evt.TS}
			t.runs[evt.RunID] = snap
		}
		if evt.TS.After(snap.UpdatedAt) {
			snap.UpdatedAt = evt.TS
		}
		switch evt.Stage {
		case progress.StageRunStart:
			snap.StartedAt = evt.TS
		case progress.StageProfileDone, progress.StageProfileFailed:
			snap.Succeeded, snap.Failed = evt.Succeeded, evt.Failed
			snap.LastURL = evt.URL
		case progress.StagePageFailed:
			snap.PageFailures++
			snap.LastURL = evt.URL
		case progress.StageRunDone:
			snap.Status = RunSucceeded
			snap.Succeeded, snap.Failed = evt.Succeeded, evt.Failed
		case progress.StageRunError:
			snap.Status = RunFailed
			snap.Succeeded, snap.Failed = evt.Succeeded, evt.Failed
			snap.Note = evt.Note
		}
	}
	t.evictLocked()
	return nil
}

// Close implements the Sink interface; it performs no action.
func (t *Tracker) Close(context.Context) error {
	return nil
}

// Get returns a copy of one run's snapshot.
func (t *Tracker) Get(id uuid.UUID) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.runs[id]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// List returns all tracked runs, most recently started first.
func (t *Tracker) List() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.runs))
	for _, snap := range t.runs {
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (t *Tracker) evictLocked() {
	for len(t.runs) > t.limit {
		var (
			victim uuid.UUID
			oldest time.Time
			found  bool
		)
		for id, snap := range t.runs {
			if snap.Status == RunRunning {
				continue
			}
			if !found || snap.StartedAt.Before(oldest) {
				victim, oldest, found = id, snap.StartedAt, true
			}
		}
		if !found {
			return
		}
		delete(t.runs, victim)
	}
}
