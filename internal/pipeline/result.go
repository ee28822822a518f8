package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/directory-scraper/internal/profile"
)

// FailureKind classifies a Failure.
type FailureKind string

// Failure kinds recorded by a run.
const (
	KindNavigation FailureKind = "navigation"
	KindExtraction FailureKind = "extraction"
	KindDuplicate  FailureKind = "duplicate"
	KindPage       FailureKind = "page"
)

// Failure is one profile (or index page) that did not produce a record.
type Failure struct {
	URL      string      `json:"url"`
	Kind     FailureKind `json:"kind"`
	Reason   string      `json:"reason"`
	Attempts int         `json:"attempts,omitempty"`
}

// Result is everything a run accumulated. Records and Failures are in
// processing order; Records never share a profile id.
type Result struct {
	RunID      uuid.UUID        `json:"run_id"`
	Records    []profile.Record `json:"records"`
	Failures   []Failure        `json:"failures"`
	Discovered int              `json:"discovered"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Succeeded is the number of records collected.
func (r Result) Succeeded() int {
	return len(r.Records)
}

// Failed is the number of profiles that did not produce a record. Skipped
// index pages are not profiles and are counted by PageFailures.
func (r Result) Failed() int {
	n := 0
	for _, f := range r.Failures {
		if f.Kind != KindPage {
			n++
		}
	}
	return n
}

// PageFailures is the number of index pages skipped during discovery.
func (r Result) PageFailures() int {
	return len(r.Failures) - r.Failed()
}

// Duration is the wall time of the run.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
