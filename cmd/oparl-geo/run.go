package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"oparl-geo/internal/metrics"
	"oparl-geo/internal/models"
	"oparl-geo/internal/pipeline"

	"github.com/spf13/cobra"
)

type runOptions struct {
	city            string
	startDate       string
	endDate         string
	limit           int
	batchSize       int
	noSkipExisting  bool
	reprocessFailed bool
	test            bool
}

func runCmd(global *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction and geocoding pipeline",
		Example: `  oparl-geo run
  oparl-geo run --start-date 2024-01-01T00:00:00Z --end-date 2024-12-31T23:59:59Z
  oparl-geo run --test
  oparl-geo run --limit 100 --batch-size 25
  oparl-geo run --reprocess-failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.city, "city", "", "City to process (overrides config)")
	cmd.Flags().StringVar(&opts.startDate, "start-date", "", "Only papers modified since (ISO 8601)")
	cmd.Flags().StringVar(&opts.endDate, "end-date", "", "Only papers modified until (ISO 8601)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum number of papers to process")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Papers per batch (overrides config)")
	cmd.Flags().BoolVar(&opts.noSkipExisting, "no-skip-existing", false, "Reprocess papers already in the ledger")
	cmd.Flags().BoolVar(&opts.reprocessFailed, "reprocess-failed", false, "Clear failed papers and process them again")
	cmd.Flags().BoolVar(&opts.test, "test", false, "Test mode: 10 papers in batches of 5")
	return cmd
}

func (a *app) run(ctx context.Context, opts runOptions) error {
	if opts.city != "" {
		a.cfg.City = opts.city
	}
	pc := pipeline.Config{
		City:            a.cfg.City,
		BatchSize:       a.cfg.Pipeline.BatchSize,
		Limit:           a.cfg.Pipeline.Limit,
		SkipExisting:    a.cfg.Pipeline.SkipExisting && !opts.noSkipExisting,
		ReprocessFailed: opts.reprocessFailed,
	}
	if opts.batchSize > 0 {
		pc.BatchSize = opts.batchSize
	}
	if opts.limit > 0 {
		pc.Limit = opts.limit
	}
	if opts.test {
		pc.Limit = 10
		pc.BatchSize = 5
		a.logger.Warn().Msg("test mode: processing 10 papers with batch size 5")
	}
	pc.RunConfig = map[string]any{
		"city":          pc.City,
		"start_date":    opts.startDate,
		"end_date":      opts.endDate,
		"limit":         pc.Limit,
		"batch_size":    pc.BatchSize,
		"skip_existing": pc.SkipExisting,
		"formats":       a.cfg.Sinks.Formats,
	}

	ledger, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer ledger.Close()

	store, err := a.loadGazetteer(ctx)
	if err != nil {
		return err
	}
	locations, err := a.extractor(ctx, store)
	if err != nil {
		return err
	}
	geo, err := a.geocoder()
	if err != nil {
		return err
	}
	defer a.closeGeocoder(geo)

	source, err := a.oparlClient(opts.startDate, opts.endDate)
	if err != nil {
		return err
	}
	out, err := a.sinks()
	if err != nil {
		return err
	}

	m := metrics.New(a.cfg.City)
	if err := m.RegisterGeocoder(geo.Stats); err != nil {
		return err
	}
	if err := m.RegisterLedger(func() (models.StateStatistics, error) {
		return ledger.Statistics(context.WithoutCancel(ctx))
	}); err != nil {
		return err
	}
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info().Str("addr", addr).Msg("serving metrics")
	}

	orch, err := pipeline.New(pc, pipeline.Deps{
		Source:    source,
		Text:      a.textExtractor(),
		Extractor: locations,
		Geocoder:  geo,
		Sink:      out,
		State:     ledger,
		Recorder:  m,
	}, a.logger.With().Str("component", "pipeline").Logger())
	if err != nil {
		return err
	}

	_, runErr := orch.Run(ctx)

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("failed to write metrics textfile")
		}
	}
	return runErr
}
