package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"oparl-geo/internal/models"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
)

// ParquetSink writes one part file per batch into hive-style partitions:
// papers/city=<city>/ and locations/city=<city>/.
type ParquetSink struct {
	dir    string
	city   string
	run    string
	logger zerolog.Logger

	mu  sync.Mutex
	seq int
}

func NewParquetSink(dir, city string, logger zerolog.Logger) *ParquetSink {
	return &ParquetSink{
		dir:    dir,
		city:   city,
		run:    uuid.NewString()[:8],
		logger: logger,
	}
}

// PapersDir is the partition directory of the papers table.
func (s *ParquetSink) PapersDir() string {
	return filepath.Join(s.dir, "papers", "city="+s.city)
}

// LocationsDir is the partition directory of the locations table.
func (s *ParquetSink) LocationsDir() string {
	return filepath.Join(s.dir, "locations", "city="+s.city)
}

func (s *ParquetSink) WriteBatch(ctx context.Context, records []models.EnrichedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	papers := make([]PaperRow, 0, len(records))
	for _, r := range records {
		row, err := paperRow(r, s.city)
		if err != nil {
			return 0, fmt.Errorf("sink: encode paper %s: %w", r.ID, err)
		}
		papers = append(papers, row)
	}
	locations := locationRows(records, s.city)

	s.mu.Lock()
	s.seq++
	name := fmt.Sprintf("part-%s-%05d.parquet", s.run, s.seq)
	s.mu.Unlock()

	if err := writeParquet(filepath.Join(s.PapersDir(), name), papers); err != nil {
		return 0, err
	}
	if len(locations) > 0 {
		if err := writeParquet(filepath.Join(s.LocationsDir(), name), locations); err != nil {
			return 0, err
		}
	}

	s.logger.Info().Int("papers", len(papers)).Int("locations", len(locations)).Str("part", name).Msg("parquet batch written")
	return len(papers), nil
}

func writeParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sink: create %s: %w", filepath.Dir(path), err)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("sink: write %s: %w", path, err)
	}
	return nil
}
