package repository

import (
	"context"
	"errors"
	"fmt"

	"oparl-geo/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no gazetteer entry matches.
var ErrNotFound = errors.New("repository: not found")

// nearestRadius bounds FindNearestEntry, in meters.
const nearestRadius = 10000

const schema = `
	CREATE EXTENSION IF NOT EXISTS postgis;

	CREATE TABLE IF NOT EXISTS gazetteer (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		geom GEOGRAPHY(POINT, 4326)
	);

	CREATE INDEX IF NOT EXISTS gazetteer_geom_idx ON gazetteer USING GIST (geom);
	CREATE INDEX IF NOT EXISTS gazetteer_name_idx ON gazetteer (lower(name));
	CREATE INDEX IF NOT EXISTS gazetteer_kind_idx ON gazetteer (kind);
`

// Repository implements the gazetteer queries against PostGIS
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSchema creates the gazetteer table and its indexes if missing.
func (r *Repository) CreateSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("repository: failed to create schema: %w", err)
	}
	return nil
}

// ImportEntries bulk loads entries with COPY. Entries without coordinates
// are stored without geometry.
func (r *Repository) ImportEntries(ctx context.Context, entries []models.GazetteerEntry) (int64, error) {
	n, err := r.db.CopyFrom(
		ctx,
		pgx.Identifier{"gazetteer"},
		[]string{"name", "kind", "geom"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			var geom any
			if e.Coordinates != nil {
				// PostGIS format: lon lat
				geom = fmt.Sprintf("SRID=4326;POINT(%f %f)", e.Coordinates.Lon, e.Coordinates.Lat)
			}
			return []any{e.Name, string(e.Kind), geom}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to copy entries: %w", err)
	}
	return n, nil
}

// Count returns the number of entries of kind, or of all kinds when kind is
// empty.
func (r *Repository) Count(ctx context.Context, kind models.Kind) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM gazetteer WHERE $1 = '' OR kind = $1`, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to count entries: %w", err)
	}
	return n, nil
}

// SearchGazetteer finds entries whose name contains query, ignoring case.
// Prefix matches rank first.
func (r *Repository) SearchGazetteer(ctx context.Context, query string, limit int) ([]models.GazetteerEntry, error) {
	sql := `
		SELECT
			id,
			name,
			kind,
			ST_Y(geom::geometry) AS latitude,
			ST_X(geom::geometry) AS longitude
		FROM gazetteer
		WHERE lower(name) LIKE '%' || lower($1) || '%'
		ORDER BY
			lower(name) LIKE lower($1) || '%' DESC,
			kind = 'street' DESC,
			lower(name)
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, sql, query, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to execute search query: %w", err)
	}
	return collectEntries(rows)
}

// FindNearestEntry returns the entry closest to the coordinates within 10km.
func (r *Repository) FindNearestEntry(ctx context.Context, lat, lon float64) (*models.GazetteerEntry, error) {
	sql := `
		SELECT
			id,
			name,
			kind,
			ST_Y(geom::geometry) AS latitude,
			ST_X(geom::geometry) AS longitude
		FROM gazetteer
		WHERE ST_DWithin(geom, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, $3)
		ORDER BY geom <-> ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography
		LIMIT 1
	`

	rows, err := r.db.Query(ctx, sql, lat, lon, nearestRadius)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to execute spatial query: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entry near %f,%f", ErrNotFound, lat, lon)
	}
	return &entries[0], nil
}

// LoadEntries returns all entries of kind ordered by name. It satisfies
// gazetteer.EntrySource, which the CLI uses when db_source is set.
func (r *Repository) LoadEntries(ctx context.Context, kind models.Kind) ([]models.GazetteerEntry, error) {
	sql := `
		SELECT
			id,
			name,
			kind,
			ST_Y(geom::geometry) AS latitude,
			ST_X(geom::geometry) AS longitude
		FROM gazetteer
		WHERE kind = $1
		ORDER BY name
	`

	rows, err := r.db.Query(ctx, sql, string(kind))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to load entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]models.GazetteerEntry, error) {
	defer rows.Close()

	entries := []models.GazetteerEntry{}
	for rows.Next() {
		var (
			e        models.GazetteerEntry
			kind     string
			lat, lon *float64
		)
		if err := rows.Scan(&e.ID, &e.Name, &kind, &lat, &lon); err != nil {
			return nil, fmt.Errorf("repository: failed to scan entry: %w", err)
		}
		e.Kind = models.Kind(kind)
		if lat != nil && lon != nil {
			e.Coordinates = &models.Point{Lat: *lat, Lon: *lon}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating rows: %w", err)
	}
	return entries, nil
}
