package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"oparl-geo/internal/models"
	"oparl-geo/internal/repository"
)

// ErrInvalidInput marks errors caused by the caller's arguments.
var ErrInvalidInput = errors.New("service: invalid input")

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// GazetteerService contains the lookup logic over street and district names
type GazetteerService struct {
	repo GazetteerRepository
}

// GazetteerRepository is satisfied by the PostGIS repository and by the
// in-memory store adapter.
type GazetteerRepository interface {
	SearchGazetteer(ctx context.Context, query string, limit int) ([]models.GazetteerEntry, error)
	FindNearestEntry(ctx context.Context, lat, lon float64) (*models.GazetteerEntry, error)
}

// NewGazetteerService creates a new gazetteer service
func NewGazetteerService(repo GazetteerRepository) *GazetteerService {
	return &GazetteerService{repo: repo}
}

// Search returns entries whose name contains query. A non-positive limit
// means the default, and limits above 100 are capped.
func (s *GazetteerService) Search(ctx context.Context, query string, limit int) ([]models.GazetteerEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}

	entries, err := s.repo.SearchGazetteer(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to search gazetteer: %w", err)
	}
	return entries, nil
}

// Nearest finds the entry closest to the coordinates. It returns nil without
// error when nothing is near.
func (s *GazetteerService) Nearest(ctx context.Context, lat, lon float64) (*models.GazetteerEntry, error) {
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("%w: latitude %f", ErrInvalidInput, lat)
	}
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: longitude %f", ErrInvalidInput, lon)
	}

	entry, err := s.repo.FindNearestEntry(ctx, lat, lon)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: failed to find nearest entry: %w", err)
	}
	return entry, nil
}
