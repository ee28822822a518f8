// Package sheets appends records to a Google Sheets tab.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/directory-scraper/internal/profile"
)

// DefaultSheetName is the tab used when none is configured.
const DefaultSheetName = "Startups"

// Config locates the target tab.
type Config struct {
	SpreadsheetID string
	SheetName     string
	// CredentialsFile is a service-account JSON key. Empty uses Application
	// Default Credentials.
	CredentialsFile string
}

// Sink appends one row per record below a fixed header.
type Sink struct {
	svc    *gsheets.Service
	id     string
	sheet  string
	logger *zap.Logger
}

// New connects to the Sheets API.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Sink, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	all := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		all = append(all, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	all = append(all, opts...)
	svc, err := gsheets.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &Sink{svc: svc, id: cfg.SpreadsheetID, sheet: cfg.SheetName, logger: logger}, nil
}

// Name identifies the sink in logs and failure reports.
func (s *Sink) Name() string { return "sheets" }

// Write creates the tab if needed, repairs the header row, and appends
// records in order.
func (s *Sink) Write(ctx context.Context, records []profile.Record) error {
	if err := s.ensureSheet(ctx); err != nil {
		return err
	}
	if err := s.ensureHeader(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, cells(rec.Row()))
	}
	resp, err := s.svc.Spreadsheets.Values.Append(s.id, s.rangeOf("A1"), &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append rows: %w", err)
	}
	updated := ""
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRange
	}
	s.logger.Info("rows appended",
		zap.String("spreadsheet", s.id),
		zap.String("sheet", s.sheet),
		zap.Int("rows", len(rows)),
		zap.String("range", updated),
	)
	return nil
}

func (s *Sink) ensureSheet(ctx context.Context) error {
	book, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("open spreadsheet %s: %w", s.id, err)
	}
	for _, sh := range book.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.sheet {
			return nil
		}
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{Requests: []*gsheets.Request{{
		AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{
			Title: s.sheet,
			GridProperties: &gsheets.GridProperties{
				RowCount:       1000,
				ColumnCount:    int64(len(profile.Columns)),
				FrozenRowCount: 1,
			},
		}},
	}}}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %q: %w", s.sheet, err)
	}
	s.logger.Info("sheet created", zap.String("spreadsheet", s.id), zap.String("sheet", s.sheet))
	return nil
}

func (s *Sink) ensureHeader(ctx context.Context) error {
	resp, err := s.svc.Spreadsheets.Values.Get(s.id, s.rangeOf("1:1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && slices.Equal(asStrings(resp.Values[0]), profile.Columns) {
		return nil
	}
	header := &gsheets.ValueRange{Values: [][]any{cells(profile.Columns)}}
	if _, err := s.svc.Spreadsheets.Values.Update(s.id, s.rangeOf("A1"), header).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// rangeOf builds an A1 range on the target tab, quoting the tab name.
func (s *Sink) rangeOf(cells string) string {
	return "'" + strings.ReplaceAll(s.sheet, "'", "''") + "'!" + cells
}

func cells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func asStrings(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}
