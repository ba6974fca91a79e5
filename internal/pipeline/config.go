package pipeline

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("pipeline: invalid config")

// ResourcePaper is the ledger resource type for OParl papers.
const ResourcePaper = "paper"

// Config controls one orchestrator run.
type Config struct {
	City      string
	BatchSize int
	// Limit caps the number of records accepted into batches. 0 means no
	// limit.
	Limit        int
	SkipExisting bool
	// ReprocessFailed clears failed ledger rows before the run starts.
	ReprocessFailed bool
	// RunConfig is stored with the pipeline run row.
	RunConfig map[string]any
}

func DefaultConfig() Config {
	return Config{
		City:         "augsburg",
		BatchSize:    50,
		SkipExisting: true,
	}
}

func (c Config) Validate() error {
	if c.City == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalidConfig, c.Limit)
	}
	return nil
}
