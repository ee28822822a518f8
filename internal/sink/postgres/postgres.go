// Package postgres upserts records into a Postgres table keyed by profile id.
package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/profile"
	pgstore "github.com/JakeFAU/directory-scraper/internal/storage/postgres"
)

const defaultTable = "company_profiles"

const schema = `
CREATE TABLE IF NOT EXISTS %s (
	profile_id    TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	company_name  TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	industry      TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	website       TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL DEFAULT '',
	contact_phone TEXT NOT NULL DEFAULT '',
	funding_info  TEXT NOT NULL DEFAULT '',
	extra_fields  JSONB NOT NULL DEFAULT '{}'::jsonb,
	scraped_at    TIMESTAMPTZ NOT NULL
)`

// Sink writes every record inside one transaction so a failed run never
// leaves a partial batch behind.
type Sink struct {
	db     pgstore.DB
	table  string
	owned  bool
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Sink.
type Option func(*Sink)

// WithClock overrides the scraped_at timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the sink logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects with cfg and returns a Sink owning the pool.
func Open(ctx context.Context, cfg pgstore.Config, table string, opts ...Option) (*Sink, error) {
	pool, err := pgstore.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewWithPool(pool, table, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewWithPool constructs a Sink from an existing pool (primarily for testing).
func NewWithPool(db pgstore.DB, table string, opts ...Option) (*Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !pgstore.ValidTableName(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &Sink{
		db:     db,
		table:  table,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name identifies the sink in logs and failure reports.
func (s *Sink) Name() string { return "postgres" }

// EnsureSchema creates the table when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(schema, s.table)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Write upserts records by profile_id.
func (s *Sink) Write(ctx context.Context, records []profile.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	profile_id,
	url,
	company_name,
	description,
	industry,
	location,
	website,
	contact_email,
	contact_phone,
	funding_info,
	extra_fields,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (profile_id) DO UPDATE SET
	url = EXCLUDED.url,
	company_name = EXCLUDED.company_name,
	description = EXCLUDED.description,
	industry = EXCLUDED.industry,
	location = EXCLUDED.location,
	website = EXCLUDED.website,
	contact_email = EXCLUDED.contact_email,
	contact_phone = EXCLUDED.contact_phone,
	funding_info = EXCLUDED.funding_info,
	extra_fields = EXCLUDED.extra_fields,
	scraped_at = EXCLUDED.scraped_at`, s.table)

	at := s.now()
	for _, rec := range records {
		extra, err := rec.ExtraFields.MarshalJSON()
		if err != nil {
			return fmt.Errorf("marshal extra fields for %s: %w", rec.ProfileID, err)
		}
		if _, err := tx.Exec(ctx, query,
			rec.ProfileID,
			rec.URL,
			rec.CompanyName,
			rec.Description,
			rec.Industry,
			rec.Location,
			rec.Website,
			rec.ContactEmail,
			rec.ContactPhone,
			rec.FundingInfo,
			extra,
			at,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.ProfileID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("records upserted", zap.String("table", s.table), zap.Int("records", len(records)))
	return nil
}

// Close releases the underlying pool when the sink owns it.
func (s *Sink) Close() error {
	if s.owned && s.db != nil {
		s.db.Close()
	}
	return nil
}
