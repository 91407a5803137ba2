// Package app assembles the engine components shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/analysis"
	"github.com/aqfield/aqfield/internal/config"
	"github.com/aqfield/aqfield/internal/database"
	"github.com/aqfield/aqfield/internal/spatial"
	"github.com/aqfield/aqfield/internal/store"
	"github.com/aqfield/aqfield/internal/telemetry"
)

// App holds the wired engine.
type App struct {
	Store   *store.GuardedRepository
	Service *analysis.Service
	Metrics *telemetry.EngineMetrics

	pool *pgxpool.Pool
}

// New connects the store and builds the analysis service. The memory store
// is used when cfg.App.UseMemoryStore is set.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	var repo store.Repository
	var pool *pgxpool.Pool

	if cfg.App.UseMemoryStore {
		repo = store.NewInMemoryRepository()
		log.Warn().Msg("using in-memory store, data is lost on exit")
	} else {
		p, err := database.Connect(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		pg := store.NewPostgresRepository(p)
		if err := pg.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
		repo, pool = pg, p
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
	}

	guardCfg := store.DefaultGuardConfig("store")
	guardCfg.Logger = log
	guarded := store.NewGuardedRepository(repo, guardCfg)

	metrics, err := telemetry.NewEngineMetrics(telemetry.Meter("github.com/aqfield/aqfield/internal/analysis"))
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("creating engine metrics: %w", err)
	}

	stations := airquality.NewStationCache(airquality.StationCacheConfig{
		Source: guarded,
		Logger: log,
		TTL:    cfg.App.StationCacheTTL,
	})

	service := analysis.NewService(analysis.ServiceConfig{
		Store:    guarded,
		Stations: stations,
		Interpolator: spatial.NewInterpolator(spatial.Config{
			Power:   cfg.Engine.Power,
			Epsilon: cfg.Engine.Epsilon,
			Metric:  cfg.Engine.Metric,
			Workers: cfg.Engine.Workers,
		}),
		Defaults: analysis.Defaults{
			Agg:               cfg.Engine.Aggregation,
			CoverageThreshold: cfg.Engine.CoverageThreshold,
			SmoothingWindow:   cfg.Engine.SmoothingWindow,
			CellSize:          cfg.Engine.CellSize,
		},
		Logger:  log,
		Metrics: metrics,
	})

	return &App{Store: guarded, Service: service, Metrics: metrics, pool: pool}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
