package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
)

var ErrInvalidConfig = errors.New("sink: invalid config")

const (
	FormatParquet = "parquet"
	FormatRDF     = "rdf"
	FormatGeoJSON = "geojson"
	FormatXLSX    = "xlsx"
)

// Sink persists a batch of enriched records and reports how many it wrote.
type Sink interface {
	WriteBatch(ctx context.Context, records []models.EnrichedRecord) (int, error)
}

// Finalizer is implemented by sinks that produce their output at the end of
// a successful run.
type Finalizer interface {
	Finalize(ctx context.Context) error
}

// Config selects and places the output formats.
type Config struct {
	Dir            string
	City           string
	Formats        []string
	BaseURI        string
	RDFFinalFormat string
	Validate       bool
}

// Multi fans every batch out to all of its sinks in order.
type Multi []Sink

func (m Multi) WriteBatch(ctx context.Context, records []models.EnrichedRecord) (int, error) {
	for _, s := range m {
		if _, err := s.WriteBatch(ctx, records); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func (m Multi) Finalize(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(Finalizer); ok {
			if err := f.Finalize(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Build assembles the configured sinks, wrapped in schema validation when
// requested.
func Build(cfg Config, logger zerolog.Logger) (Sink, error) {
	if cfg.City == "" {
		return nil, fmt.Errorf("%w: city is required", ErrInvalidConfig)
	}

	var sinks Multi
	for _, format := range cfg.Formats {
		switch format {
		case FormatParquet:
			sinks = append(sinks, NewParquetSink(cfg.Dir, cfg.City, logger))
		case FormatRDF:
			s, err := NewRDFSink(filepath.Join(cfg.Dir, "metadata.nt"), cfg.BaseURI, cfg.RDFFinalFormat, logger)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		case FormatGeoJSON:
			sinks = append(sinks, NewGeoJSONSink(filepath.Join(cfg.Dir, cfg.City+"_locations.geojson"), cfg.City, logger))
		case FormatXLSX:
			sinks = append(sinks, NewWorkbookSink(filepath.Join(cfg.Dir, cfg.City+"_locations.xlsx"), cfg.City, logger))
		default:
			return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidConfig, format)
		}
	}

	if !cfg.Validate {
		return sinks, nil
	}
	v, err := NewValidatingSink(sinks, logger)
	if err != nil {
		return nil, err
	}
	return v, nil
}
