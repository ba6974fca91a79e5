package main

import (
	"context"
	"net/http"
	"os"

	"oparl-geo/internal/config"
	"oparl-geo/internal/gazetteer"
	"oparl-geo/internal/handler"
	"oparl-geo/internal/logging"
	"oparl-geo/internal/metrics"
	"oparl-geo/internal/models"
	"oparl-geo/internal/repository"
	"oparl-geo/internal/service"
	"oparl-geo/internal/state"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// nearestRadius bounds reverse lookups against the in-memory gazetteer.
const nearestRadius = 10000

func main() {
	_ = godotenv.Load(".env.local")

	config, err := config.LoadConfig("./configs")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}
	logger := logging.Setup(config.Log.Level, config.Log.Format, os.Stderr)
	ctx := context.Background()

	// Gazetteer backend: PostGIS when a database is configured, the
	// downloaded GeoJSON files otherwise.
	var repo service.GazetteerRepository
	if config.DBSource != "" {
		conn, err := pgxpool.New(ctx, config.DBSource)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot connect to db")
		}
		defer conn.Close()
		repo = repository.NewRepository(conn)
		logger.Info().Msg("using postgis gazetteer")
	} else {
		store, err := gazetteer.Load(config.Paths.GazetteerDir, logger)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot load gazetteer")
		}
		repo = service.NewStoreRepository(store, nearestRadius)
	}

	ledger, err := state.Open(ctx, state.Config{
		Path:        config.State.Path,
		AutoCommit:  true,
		BusyTimeout: config.State.BusyTimeout,
	}, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open state database")
	}
	defer ledger.Close()

	// Initialize layers
	gazetteerService := service.NewGazetteerService(repo)
	stateService := service.NewStateService(ledger)

	gazetteerHandler := handler.NewGazetteerHandler(gazetteerService)
	stateHandler := handler.NewStateHandler(stateService)

	m := metrics.New(config.City)
	if err := m.RegisterLedger(func() (models.StateStatistics, error) {
		return stateService.Stats(ctx)
	}); err != nil {
		log.Fatal().Err(err).Msg("cannot register ledger metrics")
	}

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"city":   config.City,
		})
	})

	r.GET("/gazetteer/search", gazetteerHandler.Search)
	r.GET("/gazetteer/nearest", gazetteerHandler.Nearest)

	r.GET("/state/stats", stateHandler.Stats)
	r.GET("/state/failed", stateHandler.Failed)
	r.GET("/state/checkpoint", stateHandler.Checkpoint)
	r.GET("/state/runs", stateHandler.Runs)

	r.GET("/metrics", gin.WrapH(m.Handler()))

	if err := r.Run(config.ServerAddress); err != nil {
		logger.Error().Err(err).Msg("server stopped")
	}
}
