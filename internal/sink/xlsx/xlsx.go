// Package xlsx writes records to a local Excel workbook.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/profile"
)

// DefaultSheetName names the worksheet holding the records.
const DefaultSheetName = "Startups"

const columnWidth = 32

// Sink replaces the workbook at path on every Write.
type Sink struct {
	path   string
	sheet  string
	logger *zap.Logger
}

// New builds a Sink. An empty sheet uses DefaultSheetName.
func New(path, sheet string, logger *zap.Logger) (*Sink, error) {
	if path == "" {
		return nil, errors.New("xlsx path is required")
	}
	if sheet == "" {
		sheet = DefaultSheetName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{path: path, sheet: sheet, logger: logger}, nil
}

// Name identifies the sink in logs and failure reports.
func (s *Sink) Name() string { return "xlsx" }

// Write renders the header and one row per record, then saves the workbook.
func (s *Sink) Write(ctx context.Context, records []profile.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("close workbook", zap.Error(err))
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), s.sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	if err := s.writeRow(f, 1, profile.Columns); err != nil {
		return err
	}
	for i, rec := range records {
		if err := s.writeRow(f, i+2, rec.Row()); err != nil {
			return err
		}
	}
	if err := s.format(f); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create workbook directory: %w", err)
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	s.logger.Info("workbook saved", zap.String("path", s.path), zap.Int("records", len(records)))
	return nil
}

func (s *Sink) writeRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell for row %d: %w", row, err)
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(s.sheet, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func (s *Sink) format(f *excelize.File) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, err := excelize.ColumnNumberToName(len(profile.Columns))
	if err != nil {
		return fmt.Errorf("last column: %w", err)
	}
	if err := f.SetCellStyle(s.sheet, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(s.sheet, "A", last, columnWidth); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	if err := f.SetPanes(s.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	return nil
}
