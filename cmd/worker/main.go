// Package main provides the entrypoint for the aqfield grid worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqfield/aqfield/internal/app"
	"github.com/aqfield/aqfield/internal/config"
	"github.com/aqfield/aqfield/internal/telemetry"
	"github.com/aqfield/aqfield/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "aqfield-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting aqfield worker")

	cfg, err := config.Load(serviceName, Version)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize engine")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer engine.Close()

	job := worker.NewGridJob(worker.GridJobOptions{
		Config: worker.GridJobConfig{
			Targets:     targets(cfg.Worker.Targets),
			Concurrency: cfg.Worker.Concurrency,
			Timeout:     cfg.Worker.Timeout,
		},
		Runner: engine.Service,
		Logger: log,
	})
	handler := worker.NewHandler(job, engine.Store, log)

	// Worker also exposes a health endpoint for Cloud Run.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		health := engine.Store.Health()
		status := http.StatusOK
		if !health.IsHealthy() {
			status = http.StatusServiceUnavailable
		}
		m := job.Metrics()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        health.CircuitState.String(),
			"version":       Version,
			"runs":          m.Runs,
			"tasksFailed":   m.Failed,
			"lastRunAt":     m.LastRunAt,
			"lastRunMillis": m.LastRunDuration.Milliseconds(),
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	if cfg.PubSub.ProjectID != "" {
		subscriber, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			MaxOutstanding:   cfg.PubSub.MaxOutstanding,
			Handler:          handler,
			Logger:           log,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub handler")
			return
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub receive stopped")
			}
		}()
	} else {
		log.Warn().Msg("PUBSUB_PROJECT_ID not set, running configured targets once")
		go job.Run(ctx, time.Time{})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

func targets(in []config.Target) []worker.Target {
	out := make([]worker.Target, len(in))
	for i, t := range in {
		out[i] = worker.Target{City: t.City, Pollutants: t.Pollutants, Priority: i}
	}
	return out
}
