package geocoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Status describes how a Geocode call ended.
type Status string

const (
	StatusResolved Status = "resolved"
	StatusCached   Status = "cached"
	StatusSkipped  Status = "skipped"
	StatusNotFound Status = "not_found"
)

// Outcome is the result of geocoding one text. Result is nil unless Status
// is resolved or cached. Err carries the last provider error, if any.
type Outcome struct {
	Status Status
	Result *models.GeocodeResult
	Err    error
}

func (o Outcome) OK() bool {
	return o.Result != nil
}

// Stats counts geocoder activity since construction.
type Stats struct {
	Lookups   int `json:"lookups"`
	CacheHits int `json:"cache_hits"`
	Resolved  int `json:"resolved"`
	NotFound  int `json:"not_found"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// BatchSummary counts what GeocodeBatch did.
type BatchSummary struct {
	GazetteerCount int `json:"gazetteer_count"`
	GeocodedCount  int `json:"geocoded_count"`
	Total          int `json:"total"`
}

// Geocoder resolves location text with a hierarchical query strategy, a
// persistent cache and a global rate limit on external lookups.
type Geocoder struct {
	cfg     Config
	lookup  Lookup
	cache   *Cache
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New loads the cache and returns a ready geocoder. An unreadable cache file
// is logged and replaced by an empty cache on the next flush.
func New(cfg Config, lookup Lookup, logger zerolog.Logger) (*Geocoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lookup == nil {
		return nil, fmt.Errorf("%w: lookup is required", ErrInvalidConfig)
	}

	cache, err := LoadCache(cfg.CacheFile)
	if err != nil {
		logger.Warn().Err(err).Msg("geocode cache unreadable, starting with an empty cache")
		cache = &Cache{path: cfg.CacheFile, entries: make(map[string]cacheEntry)}
	}
	logger.Info().Int("entries", cache.Len()).Str("path", cfg.CacheFile).Msg("geocode cache loaded")

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Every(cfg.RateLimit)
	}

	return &Geocoder{
		cfg:     cfg,
		lookup:  lookup,
		cache:   cache,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Queries returns the fallback chain for text, most specific first.
func (g *Geocoder) Queries(text string) []string {
	return []string{
		fmt.Sprintf("%s, %s, %s", text, g.cfg.City, g.cfg.Country),
		fmt.Sprintf("%s, %s", g.cfg.City, g.cfg.Country),
	}
}

// Geocode resolves text. Zoning plans and parcels are never looked up and
// never touch the cache. A city level fallback hit is returned with
// PrecisionCity. Geocode never flushes the cache; GeocodeBatch and Close do.
func (g *Geocoder) Geocode(ctx context.Context, text string, kind models.Kind) Outcome {
	if kind.Identifier() {
		g.count(func(s *Stats) { s.Skipped++ })
		return Outcome{Status: StatusSkipped}
	}

	key := CacheKey(text)
	if e, ok := g.cache.get(key); ok {
		if !e.Negative {
			g.count(func(s *Stats) { s.CacheHits++ })
			g.logger.Debug().Str("text", text).Msg("geocode cache hit")
			return Outcome{Status: StatusCached, Result: e.result()}
		}
		if g.cfg.NegativeTTL > 0 && e.FailedAt != nil && g.now().Sub(*e.FailedAt) < g.cfg.NegativeTTL {
			g.count(func(s *Stats) { s.CacheHits++; s.NotFound++ })
			return Outcome{Status: StatusNotFound}
		}
		g.cache.remove(key)
	}

	out := g.resolve(ctx, text)
	if out.OK() {
		g.cache.put(key, cacheEntry{
			Query:       out.Result.Query,
			Latitude:    out.Result.Latitude,
			Longitude:   out.Result.Longitude,
			DisplayName: out.Result.DisplayName,
			RawType:     out.Result.RawType,
			Importance:  out.Result.Importance,
			Precision:   out.Result.Precision,
		})
	} else if g.cfg.NegativeTTL > 0 && out.Err == nil {
		failedAt := g.now()
		g.cache.put(key, cacheEntry{Negative: true, FailedAt: &failedAt})
	}

	return out
}

func (g *Geocoder) resolve(ctx context.Context, text string) Outcome {
	var lastErr error
	for i, query := range g.Queries(text) {
		if err := g.limiter.Wait(ctx); err != nil {
			return Outcome{Status: StatusNotFound, Err: fmt.Errorf("geocoder: rate limiter: %w", err)}
		}

		g.count(func(s *Stats) { s.Lookups++ })
		place, err := g.lookup.Search(ctx, query)
		if err != nil {
			g.count(func(s *Stats) { s.Errors++ })
			lastErr = err
			if errors.Is(err, ErrTransient) {
				g.logger.Warn().Err(err).Str("query", query).Msg("geocoding failed, trying next query")
			} else {
				g.logger.Error().Err(err).Str("query", query).Msg("unexpected geocoding error, trying next query")
			}
			continue
		}
		if place == nil {
			continue
		}

		precision := models.PrecisionExact
		if i > 0 {
			precision = models.PrecisionCity
		}
		g.count(func(s *Stats) { s.Resolved++ })
		g.logger.Debug().Str("text", text).Float64("lat", place.Latitude).Float64("lon", place.Longitude).Msg("geocoded")
		return Outcome{
			Status: StatusResolved,
			Result: &models.GeocodeResult{
				Query:       query,
				Latitude:    place.Latitude,
				Longitude:   place.Longitude,
				DisplayName: place.DisplayName,
				RawType:     place.Type,
				Importance:  place.Importance,
				Precision:   precision,
			},
		}
	}

	g.count(func(s *Stats) { s.NotFound++ })
	g.logger.Debug().Str("text", text).Msg("geocoding found nothing")
	return Outcome{Status: StatusNotFound, Err: lastErr}
}

// GeocodeBatch enriches candidates in order. Candidates that already carry
// gazetteer coordinates pass through without a lookup. The cache is flushed
// every FlushInterval candidates and once at the end.
func (g *Geocoder) GeocodeBatch(ctx context.Context, candidates []models.LocationCandidate) ([]models.EnrichedLocation, BatchSummary) {
	out := make([]models.EnrichedLocation, 0, len(candidates))
	summary := BatchSummary{Total: len(candidates)}

	for i, c := range candidates {
		loc := models.EnrichedLocation{LocationCandidate: c}

		switch {
		case c.Method == models.MethodGazetteer && c.Coordinates != nil:
			lat, lon := c.Coordinates.Lat, c.Coordinates.Lon
			loc.Latitude, loc.Longitude = &lat, &lon
			loc.DisplayName = c.Text
			loc.Source = models.SourceGazetteer
			loc.Precision = models.PrecisionExact
			summary.GazetteerCount++
		default:
			if o := g.Geocode(ctx, c.Text, c.Kind); o.OK() {
				lat, lon := o.Result.Latitude, o.Result.Longitude
				loc.Latitude, loc.Longitude = &lat, &lon
				loc.DisplayName = o.Result.DisplayName
				loc.MatchedQuery = o.Result.Query
				loc.Source = models.SourceGeocoder
				loc.Precision = o.Result.Precision
				summary.GeocodedCount++
			}
		}
		out = append(out, loc)

		if (i+1)%g.cfg.FlushInterval == 0 {
			g.flush()
			g.logger.Info().Int("done", i+1).Int("total", len(candidates)).Msg("geocoding progress")
		}
	}

	g.flush()
	return out, summary
}

// Stats returns a snapshot of the counters.
func (g *Geocoder) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Close flushes the cache.
func (g *Geocoder) Close() error {
	return g.cache.Flush()
}

func (g *Geocoder) flush() {
	if err := g.cache.Flush(); err != nil {
		g.logger.Warn().Err(err).Msg("failed to flush geocode cache")
	}
}

func (g *Geocoder) count(f func(*Stats)) {
	g.mu.Lock()
	f(&g.stats)
	g.mu.Unlock()
}
