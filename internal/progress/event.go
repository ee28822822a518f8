package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StagePageFailed    Stage = "PAGE_FAILED"
	StageProfileDone   Stage = "PROFILE_DONE"
	StageProfileFailed Stage = "PROFILE_FAILED"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
)

// Event is one progress notification.
type Event struct {
	// RunID identifies the scrape run.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// URL is the profile or index page the event refers to.
	URL       string
	ProfileID string
	// Kind is the failure kind for PROFILE_FAILED events.
	Kind string
	// Succeeded and Failed are running totals at emission time.
	Succeeded int
	Failed    int
	Attempts  int
	// Dur is the render latency for profile events and the wall time for
	// RUN_DONE / RUN_ERROR.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageFailed, StageProfileDone:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageProfileFailed:
		if e.URL == "" {
			return errors.New("profile failed requires url")
		}
		if e.Kind == "" {
			return errors.New("profile failed requires kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Succeeded < 0 || e.Failed < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a run.
func (e Event) Terminal() bool {
	return e.Stage == StageRunDone || e.Stage == StageRunError
}
