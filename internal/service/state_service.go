package service

import (
	"context"
	"errors"
	"fmt"

	"oparl-geo/internal/models"
	"oparl-geo/internal/state"
)

const defaultRunLimit = 20

// StateReader is the read side of the processing ledger
type StateReader interface {
	Statistics(ctx context.Context) (models.StateStatistics, error)
	FailedResources(ctx context.Context, resourceType string) ([]models.ProcessedResource, error)
	LastCheckpoint(ctx context.Context, resourceType string) (*models.Checkpoint, error)
	ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

// StateService exposes ledger queries to the API
type StateService struct {
	reader StateReader
}

func NewStateService(reader StateReader) *StateService {
	return &StateService{reader: reader}
}

func (s *StateService) Stats(ctx context.Context) (models.StateStatistics, error) {
	stats, err := s.reader.Statistics(ctx)
	if err != nil {
		return models.StateStatistics{}, fmt.Errorf("service: failed to read statistics: %w", err)
	}
	return stats, nil
}

// Failed lists failed resources, newest first. An empty type means all types.
func (s *StateService) Failed(ctx context.Context, resourceType string) ([]models.ProcessedResource, error) {
	failed, err := s.reader.FailedResources(ctx, resourceType)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list failed resources: %w", err)
	}
	if failed == nil {
		failed = []models.ProcessedResource{}
	}
	return failed, nil
}

// Checkpoint returns the latest checkpoint of resourceType, or nil when none
// was written yet.
func (s *StateService) Checkpoint(ctx context.Context, resourceType string) (*models.Checkpoint, error) {
	if resourceType == "" {
		return nil, fmt.Errorf("%w: resource type cannot be empty", ErrInvalidInput)
	}
	cp, err := s.reader.LastCheckpoint(ctx, resourceType)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: failed to read checkpoint: %w", err)
	}
	return cp, nil
}

func (s *StateService) Runs(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	runs, err := s.reader.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list runs: %w", err)
	}
	if runs == nil {
		runs = []models.PipelineRun{}
	}
	return runs, nil
}
