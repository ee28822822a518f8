package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-scraper/internal/progress"
	"github.com/JakeFAU/directory-scraper/internal/progress/sinks"
)

func newMockStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRunStore(mock, "", false)
	require.NoError(t, err)
	return store, mock
}

func TestNewRunStoreValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStore(mock, "runs; DROP TABLE x", false)
	assert.Error(t, err)
	_, err = NewRunStore(nil, "runs", false)
	assert.Error(t, err)
	assert.True(t, ValidTableName("company_profiles"))
	assert.False(t, ValidTableName("1abc"))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeWritesRunLifecycle(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	batch := []progress.Event{
		{RunID: id, TS: t0, Stage: progress.StageRunStart, URL: "https://dir.example/startups"},
		{RunID: id, TS: t0.Add(time.Second), Stage: progress.StageProfileDone, URL: "u1", Succeeded: 1},
		{RunID: id, TS: t0.Add(2 * time.Second), Stage: progress.StageProfileFailed, URL: "u2", Kind: "navigation", Succeeded: 1, Failed: 1},
		{RunID: id, TS: t0.Add(3 * time.Second), Stage: progress.StagePageFailed, URL: "p2"},
		{RunID: id, TS: t0.Add(4 * time.Second), Stage: progress.StageProfileDone, URL: "u3", Succeeded: 2, Failed: 1},
	}

	mock.ExpectExec("INSERT INTO scrape_runs").
		WithArgs(id, "https://dir.example/startups", "running", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE scrape_runs SET succeeded").
		WithArgs(id, 1, 1, t0.Add(2*time.Second)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scrape_runs SET page_failures").
		WithArgs(id, t0.Add(3*time.Second)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scrape_runs SET succeeded").
		WithArgs(id, 2, 1, t0.Add(4*time.Second)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Consume(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeFinishSupersedesPendingCounts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	batch := []progress.Event{
		{RunID: id, TS: t0, Stage: progress.StageProfileDone, URL: "u1", Succeeded: 1},
		{RunID: id, TS: t0.Add(time.Second), Stage: progress.StageRunError, Succeeded: 1, Note: "renderer unavailable"},
	}
	mock.ExpectExec("UPDATE scrape_runs SET status").
		WithArgs(id, "failed", 1, 0, t0.Add(time.Second), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Consume(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeReportsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec("INSERT INTO scrape_runs").WillReturnError(errors.New("connection reset"))

	err := store.Consume(context.Background(), []progress.Event{{RunID: id, TS: time.Now(), Stage: progress.StageRunStart}})
	assert.ErrorContains(t, err, "insert run")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"run_id", "status", "started_at", "updated_at", "succeeded", "failed", "page_failures", "error_message"}).
		AddRow(id, "succeeded", t0, t0.Add(time.Minute), 40, 2, 1, "")
	mock.ExpectQuery("SELECT (.+) FROM scrape_runs ORDER BY started_at DESC").
		WithArgs(20, 0).
		WillReturnRows(rows)

	runs, err := store.ListRuns(context.Background(), 0, -5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].RunID)
	assert.Equal(t, sinks.RunSucceeded, runs[0].Status)
	assert.Equal(t, 40, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].PageFailures)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM scrape_runs WHERE run_id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
