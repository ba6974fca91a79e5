package pipeline

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"oparl-geo/internal/geocoder"
	"oparl-geo/internal/models"

	"github.com/rs/zerolog"
)

// Source yields papers lazily.
type Source interface {
	Papers(ctx context.Context) iter.Seq2[models.Paper, error]
}

// TextExtractor returns one result per paper, in input order.
type TextExtractor interface {
	ExtractBatch(ctx context.Context, papers []models.Paper) []models.TextResult
}

type LocationExtractor interface {
	Extract(ctx context.Context, text, recordID, documentURL string) []models.LocationCandidate
}

type Geocoder interface {
	GeocodeBatch(ctx context.Context, candidates []models.LocationCandidate) ([]models.EnrichedLocation, geocoder.BatchSummary)
}

// Sink persists enriched records.
type Sink interface {
	WriteBatch(ctx context.Context, records []models.EnrichedRecord) (int, error)
}

// Finalizer is implemented by sinks that need a last step after a
// successful run.
type Finalizer interface {
	Finalize(ctx context.Context) error
}

// StateStore is the processing ledger.
type StateStore interface {
	ProcessedIDs(ctx context.Context, resourceType string, status models.ResourceStatus) (map[string]struct{}, error)
	MarkProcessed(ctx context.Context, id, resourceType string, status models.ResourceStatus, metadata map[string]any, errMsg string) error
	MarkBatchProcessed(ctx context.Context, ids []string, resourceType string, status models.ResourceStatus) error
	Checkpoint(ctx context.Context, resourceType string, batchSize int, metadata map[string]any) (int64, error)
	StartPipelineRun(ctx context.Context, city string, config map[string]any) (int64, error)
	EndPipelineRun(ctx context.Context, runID int64, status models.RunStatus, stats map[string]any) error
	ClearFailed(ctx context.Context) (int64, error)
	Commit() error
}

// Recorder receives per-batch observations, typically for metrics.
type Recorder interface {
	ObservePapers(status models.ResourceStatus, n int)
	ObserveLocations(locations []models.EnrichedLocation)
	ObserveBatch(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObservePapers(models.ResourceStatus, int)    {}
func (nopRecorder) ObserveLocations([]models.EnrichedLocation) {}
func (nopRecorder) ObserveBatch(time.Duration)                 {}

// Orchestrator drives papers from the source through text extraction,
// location extraction and geocoding into the sinks, recording progress in
// the ledger so that an interrupted run resumes where it stopped.
type Orchestrator struct {
	cfg       Config
	source    Source
	text      TextExtractor
	extractor LocationExtractor
	geocoder  Geocoder
	sink      Sink
	state     StateStore
	recorder  Recorder
	logger    zerolog.Logger
	now       func() time.Time
}

// Deps bundles the collaborators of an Orchestrator. Sink and Recorder are
// optional.
type Deps struct {
	Source    Source
	Text      TextExtractor
	Extractor LocationExtractor
	Geocoder  Geocoder
	Sink      Sink
	State     StateStore
	Recorder  Recorder
}

func New(cfg Config, deps Deps, logger zerolog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: source is required", ErrInvalidConfig)
	case deps.Text == nil:
		return nil, fmt.Errorf("%w: text extractor is required", ErrInvalidConfig)
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: location extractor is required", ErrInvalidConfig)
	case deps.Geocoder == nil:
		return nil, fmt.Errorf("%w: geocoder is required", ErrInvalidConfig)
	case deps.State == nil:
		return nil, fmt.Errorf("%w: state store is required", ErrInvalidConfig)
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	return &Orchestrator{
		cfg:       cfg,
		source:    deps.Source,
		text:      deps.Text,
		extractor: deps.Extractor,
		geocoder:  deps.Geocoder,
		sink:      deps.Sink,
		state:     deps.State,
		recorder:  deps.Recorder,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run executes one pipeline run. The run row is always closed: failed on an
// error or panic, completed otherwise. A summary is logged on both paths.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	stats := Stats{StartTime: o.now()}

	runID, err := o.state.StartPipelineRun(ctx, o.cfg.City, o.runConfig())
	if err != nil {
		return stats, fmt.Errorf("pipeline: failed to start run: %w", err)
	}
	o.logger.Info().Int64("run_id", runID).Str("city", o.cfg.City).
		Int("batch_size", o.cfg.BatchSize).Bool("skip_existing", o.cfg.SkipExisting).
		Int("limit", o.cfg.Limit).Msg("pipeline run started")

	defer func() {
		if r := recover(); r != nil {
			o.finish(ctx, runID, models.RunFailed, &stats)
			panic(r)
		}
	}()

	if err := o.process(ctx, &stats); err != nil {
		o.logger.Error().Err(err).Int64("run_id", runID).Msg("pipeline failed")
		o.finish(ctx, runID, models.RunFailed, &stats)
		return stats, fmt.Errorf("pipeline: %w", err)
	}

	if f, ok := o.sink.(Finalizer); ok {
		if err := f.Finalize(ctx); err != nil {
			o.logger.Error().Err(err).Int64("run_id", runID).Msg("failed to finalize sinks")
			o.finish(ctx, runID, models.RunFailed, &stats)
			return stats, fmt.Errorf("pipeline: failed to finalize sinks: %w", err)
		}
	}

	if err := o.finish(ctx, runID, models.RunCompleted, &stats); err != nil {
		return stats, fmt.Errorf("pipeline: %w", err)
	}
	return stats, nil
}

func (o *Orchestrator) runConfig() map[string]any {
	cfg := map[string]any{
		"batch_size":       o.cfg.BatchSize,
		"limit":            o.cfg.Limit,
		"skip_existing":    o.cfg.SkipExisting,
		"reprocess_failed": o.cfg.ReprocessFailed,
	}
	for k, v := range o.cfg.RunConfig {
		cfg[k] = v
	}
	return cfg
}

func (o *Orchestrator) finish(ctx context.Context, runID int64, status models.RunStatus, stats *Stats) error {
	stats.EndTime = o.now()
	ctx = context.WithoutCancel(ctx)

	err := o.state.EndPipelineRun(ctx, runID, status, stats.Map())
	if err == nil {
		err = o.state.Commit()
	}
	if err != nil {
		o.logger.Error().Err(err).Int64("run_id", runID).Msg("failed to close pipeline run")
	}
	stats.log(o.logger, o.cfg.City, status)
	return err
}

func (o *Orchestrator) skipSet(ctx context.Context) (map[string]struct{}, error) {
	if !o.cfg.SkipExisting {
		return make(map[string]struct{}), nil
	}
	// Only completed papers are skipped; failed ones are retried.
	skip, err := o.state.ProcessedIDs(ctx, ResourcePaper, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Int("count", len(skip)).Msg("skipping already processed papers")
	return skip, nil
}

func (o *Orchestrator) process(ctx context.Context, stats *Stats) error {
	if o.cfg.ReprocessFailed {
		n, err := o.state.ClearFailed(ctx)
		if err != nil {
			return err
		}
		o.logger.Info().Int64("count", n).Msg("cleared failed papers for reprocessing")
	}

	skip, err := o.skipSet(ctx)
	if err != nil {
		return err
	}

	batch := make([]models.Paper, 0, o.cfg.BatchSize)
	accepted := 0

	for paper, err := range o.source.Papers(ctx) {
		if err != nil {
			return fmt.Errorf("failed to fetch papers: %w", err)
		}
		stats.PapersFetched++

		if _, ok := skip[paper.ID]; ok {
			stats.PapersSkipped++
			continue
		}
		skip[paper.ID] = struct{}{}

		batch = append(batch, paper)
		accepted++

		if len(batch) >= o.cfg.BatchSize {
			if err := o.processBatch(ctx, batch, stats); err != nil {
				return err
			}
			batch = batch[:0]
		}

		if o.cfg.Limit > 0 && accepted >= o.cfg.Limit {
			o.logger.Info().Int("limit", o.cfg.Limit).Msg("reached paper limit")
			break
		}
	}

	if len(batch) > 0 {
		if err := o.processBatch(ctx, batch, stats); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processBatch(ctx context.Context, batch []models.Paper, stats *Stats) error {
	start := o.now()
	o.logger.Info().Int("size", len(batch)).Msg("processing batch")

	results := o.text.ExtractBatch(ctx, batch)
	if len(results) != len(batch) {
		return fmt.Errorf("text extractor returned %d results for %d papers", len(results), len(batch))
	}

	records := make([]models.EnrichedRecord, 0, len(batch))
	ids := make([]string, 0, len(batch))
	failed := 0
	extracted, geocoded := 0, 0

	for i, paper := range batch {
		res := results[i]
		if !res.Success || strings.TrimSpace(res.Text) == "" {
			msg := res.ErrorMessage()
			if msg == "" {
				msg = "PDF extraction failed"
			}
			if err := o.state.MarkProcessed(ctx, paper.ID, ResourcePaper, models.StatusFailed, nil, msg); err != nil {
				return err
			}
			o.logger.Debug().Str("paper_id", paper.ID).Str("error", msg).Msg("text extraction failed")
			failed++
			continue
		}

		candidates := o.extractor.Extract(ctx, res.Text, paper.ID, paper.DocumentURL())
		locations, summary := o.geocoder.GeocodeBatch(ctx, candidates)
		for _, loc := range locations {
			if loc.Geocoded() {
				geocoded++
			}
		}
		extracted += len(locations)
		stats.GazetteerResolved += summary.GazetteerCount
		o.recorder.ObserveLocations(locations)

		records = append(records, models.NewEnrichedRecord(paper, res, locations))
		ids = append(ids, paper.ID)
	}

	stats.PapersFailed += failed
	o.recorder.ObservePapers(models.StatusFailed, failed)
	if failed > 0 {
		o.logger.Warn().Int("count", failed).Msg("papers failed text extraction")
	}

	if len(records) > 0 {
		if o.sink != nil {
			if _, err := o.sink.WriteBatch(ctx, records); err != nil {
				return fmt.Errorf("failed to write batch: %w", err)
			}
		}
		if err := o.state.MarkBatchProcessed(ctx, ids, ResourcePaper, models.StatusCompleted); err != nil {
			return err
		}
	} else {
		o.logger.Warn().Msg("no papers with text in batch")
	}

	stats.PapersProcessed += len(records)
	stats.LocationsExtracted += extracted
	stats.LocationsGeocoded += geocoded
	stats.Batches++
	o.recorder.ObservePapers(models.StatusCompleted, len(records))

	if _, err := o.state.Checkpoint(ctx, ResourcePaper, len(batch), map[string]any{"total_fetched": stats.PapersFetched}); err != nil {
		return err
	}
	if err := o.state.Commit(); err != nil {
		return err
	}

	elapsed := o.now().Sub(start)
	o.recorder.ObserveBatch(elapsed)
	o.logger.Info().
		Int("processed", len(records)).
		Int("failed", failed).
		Int("locations", extracted).
		Int("geocoded", geocoded).
		Int("total_fetched", stats.PapersFetched).
		Int("total_processed", stats.PapersProcessed).
		Dur("elapsed", elapsed).
		Msg("batch complete")
	return nil
}
