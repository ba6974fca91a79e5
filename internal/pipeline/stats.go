package pipeline

import (
	"time"

	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
)

// Stats accumulates counters over one run.
type Stats struct {
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	PapersFetched      int       `json:"papers_fetched"`
	PapersSkipped      int       `json:"papers_skipped"`
	PapersProcessed    int       `json:"papers_processed"`
	PapersFailed       int       `json:"papers_failed"`
	LocationsExtracted int       `json:"locations_extracted"`
	LocationsGeocoded  int       `json:"locations_geocoded"`
	GazetteerResolved  int       `json:"gazetteer_resolved"`
	Batches            int       `json:"batches"`
}

// AvgLocations is the mean number of locations per processed paper.
func (s Stats) AvgLocations() float64 {
	if s.PapersProcessed == 0 {
		return 0
	}
	return float64(s.LocationsExtracted) / float64(s.PapersProcessed)
}

// GeocodeRate is the percentage of extracted locations that got
// coordinates.
func (s Stats) GeocodeRate() float64 {
	if s.LocationsExtracted == 0 {
		return 0
	}
	return 100 * float64(s.LocationsGeocoded) / float64(s.LocationsExtracted)
}

func (s Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Map renders the stats for the pipeline_runs row.
func (s Stats) Map() map[string]any {
	m := map[string]any{
		"start_time":          s.StartTime.Format(time.RFC3339),
		"papers_fetched":      s.PapersFetched,
		"papers_skipped":      s.PapersSkipped,
		"papers_processed":    s.PapersProcessed,
		"papers_failed":       s.PapersFailed,
		"locations_extracted": s.LocationsExtracted,
		"locations_geocoded":  s.LocationsGeocoded,
		"gazetteer_resolved":  s.GazetteerResolved,
		"batches":             s.Batches,
	}
	if !s.EndTime.IsZero() {
		m["end_time"] = s.EndTime.Format(time.RFC3339)
		m["duration_seconds"] = s.Duration().Seconds()
	}
	return m
}

func (s Stats) log(logger zerolog.Logger, city string, status models.RunStatus) {
	e := logger.Info()
	if status != models.RunCompleted {
		e = logger.Error()
	}
	e.Str("city", city).
		Str("status", string(status)).
		Dur("duration", s.Duration()).
		Int("fetched", s.PapersFetched).
		Int("skipped", s.PapersSkipped).
		Int("processed", s.PapersProcessed).
		Int("failed", s.PapersFailed).
		Int("locations_extracted", s.LocationsExtracted).
		Int("locations_geocoded", s.LocationsGeocoded).
		Float64("avg_locations_per_paper", s.AvgLocations()).
		Float64("geocode_success_pct", s.GeocodeRate()).
		Msg("pipeline summary")
}
