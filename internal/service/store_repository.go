package service

import (
	"context"
	"fmt"

	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/models"
	"oparl-geo/internal/repository"
)

// StoreRepository serves gazetteer queries from the GeoJSON files loaded in
// memory, for deployments without PostGIS.
type StoreRepository struct {
	store  *gazetteer.Store
	radius float64
}

// NewStoreRepository wraps store. radius is the nearest-entry search
// distance in meters.
func NewStoreRepository(store *gazetteer.Store, radius float64) *StoreRepository {
	return &StoreRepository{store: store, radius: radius}
}

func (r *StoreRepository) SearchGazetteer(_ context.Context, query string, limit int) ([]models.GazetteerEntry, error) {
	return r.store.Search(query, limit), nil
}

func (r *StoreRepository) FindNearestEntry(_ context.Context, lat, lon float64) (*models.GazetteerEntry, error) {
	e, ok := r.store.Nearest(lat, lon, r.radius)
	if !ok {
		return nil, fmt.Errorf("%w: no entry within %.0fm", repository.ErrNotFound, r.radius)
	}
	return &e, nil
}
