package main

import (
	"context"
	"fmt"
	"os"

	"oparl-geo/internal/config"
	"oparl-geo/internal/extractor"
	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/geocoder"
	"oparl-geo/internal/logging"
	"oparl-geo/internal/oparl"
	"oparl-geo/internal/overpass"
	"oparl-geo/internal/pdftext"
	"oparl-geo/internal/repository"
	"oparl-geo/internal/sink"
	"oparl-geo/internal/state"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type globalOptions struct {
	configDir string
	logLevel  string
}

// app holds the loaded configuration and builds components from it.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
}

func newApp(opts *globalOptions) (*app, error) {
	cfg, err := config.LoadConfig(opts.configDir)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return &app{cfg: cfg, logger: logger}, nil
}

// displayCity is the city name used in geocoding queries and OSM areas.
func (a *app) displayCity() string {
	return overpass.AreaName(a.cfg.City)
}

func (a *app) openState(ctx context.Context) (*state.Manager, error) {
	return state.Open(ctx, state.Config{
		Path:        a.cfg.State.Path,
		AutoCommit:  a.cfg.State.AutoCommit,
		BusyTimeout: a.cfg.State.BusyTimeout,
	}, a.logger.With().Str("component", "state").Logger())
}

// loadGazetteer reads the PostGIS gazetteer table when db_source is set and
// the downloaded GeoJSON files otherwise.
func (a *app) loadGazetteer(ctx context.Context) (*gazetteer.Store, error) {
	logger := a.logger.With().Str("component", "gazetteer").Logger()
	if a.cfg.DBSource == "" {
		return gazetteer.Load(a.cfg.Paths.GazetteerDir, logger)
	}

	conn, err := pgxpool.New(ctx, a.cfg.DBSource)
	if err != nil {
		return nil, fmt.Errorf("connect to gazetteer database: %w", err)
	}
	defer conn.Close()
	return gazetteer.LoadFrom(ctx, repository.NewRepository(conn), logger)
}

func (a *app) extractor(ctx context.Context, store *gazetteer.Store) (*extractor.Extractor, error) {
	logger := a.logger.With().Str("component", "extractor").Logger()
	ec := a.cfg.Extraction

	blocklist, err := extractor.LoadBlocklist(a.cfg.Paths.Blocklist, logger)
	if err != nil {
		return nil, err
	}

	cfg := extractor.DefaultConfig()
	cfg.MinLength = ec.MinLength
	cfg.MaxLength = ec.MaxLength
	cfg.MaxCandidates = ec.MaxCandidates
	cfg.PrefixRatio = ec.PrefixRatio
	cfg.EnableDistricts = ec.EnableDistricts
	cfg.Blocklist = blocklist

	var recognizer extractor.Recognizer
	switch ec.Recognizer {
	case "keyword", "":
		recognizer = extractor.KeywordRecognizer{}
	case "http":
		r, err := extractor.NewHTTPRecognizer(ctx, ec.NEREndpoint, a.cfg.Geocoding.Timeout)
		if err != nil {
			logger.Warn().Err(err).Msg("ner service unavailable, falling back to regex extraction")
		} else {
			recognizer = r
		}
	case "none":
	default:
		return nil, fmt.Errorf("%w: unknown recognizer %q", config.ErrInvalid, ec.Recognizer)
	}

	var source extractor.LocationSource
	if recognizer != nil {
		if ec.GazetteerCoordinates {
			gs, err := extractor.NewGazetteerSource(recognizer, store, ec.FuzzyThreshold)
			if err != nil {
				return nil, err
			}
			source = gs
		} else {
			source = extractor.NewNERSource(recognizer)
		}
	}

	return extractor.New(cfg, store, source, logger)
}

func (a *app) geocoder() (*geocoder.Geocoder, error) {
	gc := a.cfg.Geocoding
	lookup := geocoder.NewNominatimClient(gc.Endpoint, gc.UserAgent, gc.Timeout)
	return geocoder.New(geocoder.Config{
		City:          a.displayCity(),
		Country:       a.cfg.Country,
		RateLimit:     gc.RateLimit,
		CacheFile:     gc.CacheFile,
		FlushInterval: gc.FlushInterval,
		NegativeTTL:   gc.NegativeTTL,
	}, lookup, a.logger.With().Str("component", "geocoder").Logger())
}

// closeGeocoder writes the final geocode cache, logging a failure.
func (a *app) closeGeocoder(geo *geocoder.Geocoder) {
	if err := geo.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to flush geocode cache")
	}
}

func (a *app) oparlClient(startDate, endDate string) (*oparl.Client, error) {
	oc := a.cfg.OParl
	if startDate == "" {
		startDate = oc.StartDate
	}
	if endDate == "" {
		endDate = oc.EndDate
	}
	return oparl.NewClient(oparl.Config{
		Endpoint:      oc.Endpoint,
		StartDate:     startDate,
		EndDate:       endDate,
		PageLimit:     oc.PageLimit,
		Timeout:       oc.Timeout,
		RetryAttempts: oc.RetryAttempts,
		RetryPause:    oc.RetryPause,
		PageDelay:     oc.PageDelay,
		UserAgent:     a.cfg.Geocoding.UserAgent,
	}, a.logger.With().Str("component", "oparl").Logger())
}

func (a *app) textExtractor() *pdftext.Extractor {
	pc := a.cfg.PDF
	cfg := pdftext.DefaultConfig()
	cfg.Workers = pc.Workers
	cfg.Delay = pc.Delay
	cfg.Timeout = pc.Timeout
	cfg.MaxMemoryMB = pc.MaxMemoryMB
	cfg.MinTextLength = pc.MinTextLength
	cfg.TempDir = pc.TempDir
	cfg.UserAgent = a.cfg.Geocoding.UserAgent
	return pdftext.New(cfg, nil, a.logger.With().Str("component", "pdftext").Logger())
}

func (a *app) sinks() (sink.Sink, error) {
	sc := a.cfg.Sinks
	return sink.Build(sink.Config{
		Dir:            a.cfg.Paths.Processed,
		City:           a.cfg.City,
		Formats:        sc.Formats,
		BaseURI:        sc.BaseURI,
		RDFFinalFormat: sc.RDFFinalFormat,
		Validate:       sc.Validate,
	}, a.logger.With().Str("component", "sink").Logger())
}

func (a *app) overpassClient() *overpass.Client {
	return overpass.NewClient(overpass.Config{
		Endpoint:      a.cfg.Overpass.Endpoint,
		Timeout:       a.cfg.Overpass.Timeout,
		UserAgent:     a.cfg.Geocoding.UserAgent,
		RetryAttempts: 3,
	}, a.logger.With().Str("component", "overpass").Logger())
}
