package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/directory-scraper/internal/progress"
	"github.com/JakeFAU/directory-scraper/internal/progress/sinks"
	"github.com/JakeFAU/directory-scraper/internal/storage"
)

// ErrNotFound signals that the requested run does not exist. It matches
// storage.ErrNotFound.
var ErrNotFound = fmt.Errorf("run %w", storage.ErrNotFound)

const runsSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id        UUID PRIMARY KEY,
	base_url      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	succeeded     INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	page_failures INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS %[1]s_started_at_idx ON %[1]s (started_at DESC);`

// RunStore records scrape runs in Postgres. It is a progress.Sink, so run
// history is written from the same event stream that drives logs and metrics.
type RunStore struct {
	db    DB
	table string
	owned bool
}

var _ progress.Sink = (*RunStore)(nil)

// NewRunStore builds a store on db. An empty table defaults to scrape_runs.
// When owned is true, Close closes db.
func NewRunStore(db DB, table string, owned bool) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if table == "" {
		table = "scrape_runs"
	}
	if !ValidTableName(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{db: db, table: table, owned: owned}, nil
}

// EnsureSchema creates the runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(runsSchema, s.table)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Consume applies a batch of progress events. Profile events only carry
// running totals, so consecutive ones for a run collapse into one update.
func (s *RunStore) Consume(ctx context.Context, batch []progress.Event) error {
	pending := make(map[uuid.UUID]progress.Event)
	var order []uuid.UUID
	flush := func(id uuid.UUID) error {
		evt, ok := pending[id]
		if !ok {
			return nil
		}
		delete(pending, id)
		return s.updateCounts(ctx, evt)
	}

	for _, evt := range batch {
		var err error
		switch evt.Stage {
		case progress.StageRunStart:
			err = s.start(ctx, evt)
		case progress.StagePageFailed:
			if err = flush(evt.RunID); err == nil {
				err = s.pageFailed(ctx, evt)
			}
		case progress.StageProfileDone, progress.StageProfileFailed:
			if _, ok := pending[evt.RunID]; !ok {
				order = append(order, evt.RunID)
			}
			pending[evt.RunID] = evt
		case progress.StageRunDone, progress.StageRunError:
			delete(pending, evt.RunID)
			err = s.finish(ctx, evt)
		}
		if err != nil {
			return err
		}
	}
	for _, id := range order {
		if err := flush(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *RunStore) start(ctx context.Context, evt progress.Event) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, base_url, status, started_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (run_id) DO NOTHING`, s.table)
	if _, err := s.db.Exec(ctx, query, evt.RunID, evt.URL, string(sinks.RunRunning), evt.TS); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) pageFailed(ctx context.Context, evt progress.Event) error {
	query := fmt.Sprintf(`
UPDATE %s SET page_failures = page_failures + 1, updated_at = $2
WHERE run_id = $1`, s.table)
	if _, err := s.db.Exec(ctx, query, evt.RunID, evt.TS); err != nil {
		return fmt.Errorf("record page failure: %w", err)
	}
	return nil
}

func (s *RunStore) updateCounts(ctx context.Context, evt progress.Event) error {
	query := fmt.Sprintf(`
UPDATE %s SET succeeded = $2, failed = $3, updated_at = $4
WHERE run_id = $1 AND finished_at IS NULL`, s.table)
	if _, err := s.db.Exec(ctx, query, evt.RunID, evt.Succeeded, evt.Failed, evt.TS); err != nil {
		return fmt.Errorf("update run counts: %w", err)
	}
	return nil
}

func (s *RunStore) finish(ctx context.Context, evt progress.Event) error {
	status := sinks.RunSucceeded
	var errMsg *string
	if evt.Stage == progress.StageRunError {
		status = sinks.RunFailed
		note := evt.Note
		errMsg = &note
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, succeeded = $3, failed = $4, finished_at = $5, updated_at = $5, error_message = $6
WHERE run_id = $1`, s.table)
	if _, err := s.db.Exec(ctx, query, evt.RunID, string(status), evt.Succeeded, evt.Failed, evt.TS, errMsg); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

const runColumns = `run_id, status, started_at, updated_at, succeeded, failed, page_failures, COALESCE(error_message, '')`

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (sinks.Snapshot, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = $1`, runColumns, s.table)
	snap, err := scanRun(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return sinks.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return sinks.Snapshot{}, fmt.Errorf("get run: %w", err)
	}
	return snap, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]sinks.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT $1 OFFSET $2`, runColumns, s.table)
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []sinks.Snapshot{}
	for rows.Next() {
		snap, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (sinks.Snapshot, error) {
	var (
		snap   sinks.Snapshot
		status string
	)
	err := row.Scan(
		&snap.RunID,
		&status,
		&snap.StartedAt,
		&snap.UpdatedAt,
		&snap.Succeeded,
		&snap.Failed,
		&snap.PageFailures,
		&snap.Note,
	)
	snap.Status = sinks.RunStatus(status)
	return snap, err
}

// Close releases the pool when the store owns it.
func (s *RunStore) Close(context.Context) error {
	if s.owned {
		s.db.Close()
	}
	return nil
}
