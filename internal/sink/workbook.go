package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const workbookSheet = "Locations"

var workbookHeaders = []string{
	"Paper ID",
	"Paper Name",
	"Paper Date",
	"Type",
	"Value",
	"Latitude",
	"Longitude",
	"Display Name",
	"Method",
	"Precision",
	"PDF URL",
}

// WorkbookSink builds a spreadsheet of all extracted locations, one row per
// location, and saves it on Finalize.
type WorkbookSink struct {
	path   string
	city   string
	logger zerolog.Logger

	mu   sync.Mutex
	f    *excelize.File
	next int
}

func NewWorkbookSink(path, city string, logger zerolog.Logger) *WorkbookSink {
	return &WorkbookSink{path: path, city: city, logger: logger}
}

func (s *WorkbookSink) Path() string { return s.path }

func (s *WorkbookSink) init() error {
	if s.f != nil {
		return nil
	}
	f := excelize.NewFile()
	if index, _ := f.GetSheetIndex(workbookSheet); index == -1 {
		if _, err := f.NewSheet(workbookSheet); err != nil {
			return err
		}
	}
	index, _ := f.GetSheetIndex(workbookSheet)
	f.SetActiveSheet(index)
	// drop the default sheet so the workbook opens on the locations
	_ = f.DeleteSheet("Sheet1")

	for i, h := range workbookHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(workbookSheet, cell, h)
	}
	_ = f.SetColWidth(workbookSheet, "A", "A", 18)
	_ = f.SetColWidth(workbookSheet, "B", "B", 48)
	_ = f.SetColWidth(workbookSheet, "E", "E", 32)
	_ = f.SetColWidth(workbookSheet, "H", "H", 48)
	_ = f.SetColWidth(workbookSheet, "K", "K", 60)

	s.f = f
	s.next = 2
	return nil
}

func (s *WorkbookSink) WriteBatch(ctx context.Context, records []models.EnrichedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.init(); err != nil {
		return 0, fmt.Errorf("sink: init workbook: %w", err)
	}

	for _, r := range records {
		for _, loc := range r.Locations {
			row := s.next
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = s.f.SetCellValue(workbookSheet, cell, v)
			}
			write(1, shortID(r.ID))
			write(2, r.Name)
			write(3, r.Date)
			write(4, string(loc.Kind))
			write(5, loc.Text)
			if loc.Geocoded() {
				write(6, *loc.Latitude)
				write(7, *loc.Longitude)
			}
			write(8, loc.DisplayName)
			write(9, string(loc.Method))
			write(10, string(loc.Precision))
			write(11, r.DocumentURL)
			s.next++
		}
	}
	return len(records), nil
}

func (s *WorkbookSink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.init(); err != nil {
		return fmt.Errorf("sink: init workbook: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("sink: create %s: %w", filepath.Dir(s.path), err)
	}
	if err := s.f.SaveAs(s.path); err != nil {
		return fmt.Errorf("sink: save %s: %w", s.path, err)
	}

	s.logger.Info().Int("rows", s.next-2).Str("city", s.city).Str("path", s.path).Msg("workbook written")
	return s.f.Close()
}
