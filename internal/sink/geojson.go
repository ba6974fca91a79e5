package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"oparl-geo/internal/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

// GeoJSONSink collects every geocoded location of the run and writes a
// single map-ready feature collection on Finalize.
type GeoJSONSink struct {
	path   string
	city   string
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
	fc *geojson.FeatureCollection
}

func NewGeoJSONSink(path, city string, logger zerolog.Logger) *GeoJSONSink {
	return &GeoJSONSink{
		path:   path,
		city:   city,
		logger: logger,
		now:    time.Now,
		fc:     geojson.NewFeatureCollection(),
	}
}

func (s *GeoJSONSink) Path() string { return s.path }

func (s *GeoJSONSink) WriteBatch(ctx context.Context, records []models.EnrichedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		for _, loc := range r.Locations {
			if !loc.Geocoded() {
				continue
			}
			f := geojson.NewFeature(orb.Point{*loc.Longitude, *loc.Latitude})
			f.Properties["location_id"] = LocationID(r.ID, loc.Kind, loc.Text)
			f.Properties["location_type"] = string(loc.Kind)
			f.Properties["location_value"] = loc.Text
			f.Properties["paper_id"] = r.ID
			f.Properties["paper_name"] = r.Name
			f.Properties["paper_date"] = r.Date
			f.Properties["pdf_url"] = r.DocumentURL
			f.Properties["display_name"] = loc.DisplayName
			f.Properties["method"] = string(loc.Method)
			f.Properties["precision"] = string(loc.Precision)
			s.fc.Append(f)
		}
	}
	return len(records), nil
}

// Finalize writes the collection, even when it is empty.
func (s *GeoJSONSink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fc.ExtraMembers = geojson.Properties{
		"metadata": map[string]any{
			"count":        len(s.fc.Features),
			"city":         s.city,
			"generated_at": s.now().UTC().Format(time.RFC3339),
		},
	}

	data, err := s.fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("sink: encode geojson: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("sink: create %s: %w", filepath.Dir(s.path), err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("sink: write %s: %w", s.path, err)
	}

	s.logger.Info().Int("features", len(s.fc.Features)).Str("path", s.path).Msg("map features written")
	return nil
}
