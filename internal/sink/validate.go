package sink

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed record.schema.json
var recordSchema []byte

var ErrInvalidRecord = errors.New("sink: record does not match schema")

// ValidatingSink checks every record against the record schema before
// handing the batch to the wrapped sink. A single invalid record fails the
// whole batch.
type ValidatingSink struct {
	next   Sink
	schema *jsonschema.Schema
	logger zerolog.Logger
}

func NewValidatingSink(next Sink, logger zerolog.Logger) (*ValidatingSink, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.schema.json", bytes.NewReader(recordSchema)); err != nil {
		return nil, fmt.Errorf("sink: add schema: %w", err)
	}
	schema, err := compiler.Compile("record.schema.json")
	if err != nil {
		return nil, fmt.Errorf("sink: compile schema: %w", err)
	}
	return &ValidatingSink{next: next, schema: schema, logger: logger}, nil
}

// Validate checks one record.
func (s *ValidatingSink) Validate(r models.EnrichedRecord) error {
	if r.LocationCount != len(r.Locations) {
		return fmt.Errorf("%w: %s: location_count %d, %d locations", ErrInvalidRecord, r.ID, r.LocationCount, len(r.Locations))
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("sink: marshal record %s: %w", r.ID, err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("sink: unmarshal record %s: %w", r.ID, err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, r.ID, err)
	}
	return nil
}

func (s *ValidatingSink) WriteBatch(ctx context.Context, records []models.EnrichedRecord) (int, error) {
	for _, r := range records {
		if err := s.Validate(r); err != nil {
			s.logger.Error().Err(err).Str("paper_id", r.ID).Msg("invalid record")
			return 0, err
		}
	}
	return s.next.WriteBatch(ctx, records)
}

func (s *ValidatingSink) Finalize(ctx context.Context) error {
	if f, ok := s.next.(Finalizer); ok {
		return f.Finalize(ctx)
	}
	return nil
}
