// Package main provides the entrypoint for the RoadPulse refresh worker.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/api/middleware"
	"github.com/roadpulse/roadpulse/internal/api/response"
	"github.com/roadpulse/roadpulse/internal/app"
	"github.com/roadpulse/roadpulse/internal/config"
	"github.com/roadpulse/roadpulse/internal/snapshot"
	"github.com/roadpulse/roadpulse/internal/telemetry"
	"github.com/roadpulse/roadpulse/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "roadpulse-worker"

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting RoadPulse worker")

	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.FromConfig(cfg, serviceName, Version))
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

	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	sources, err := app.NewSources(ctx, cfg, log, app.WithRequestMetrics(providerMetrics))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure sources")
	}
	defer sources.Close()

	runner, err := app.NewRunner(sources, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pipeline runner")
	}

	pipelineCfg, err := cfg.Pipeline()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid pipeline configuration")
	}

	snapshots := snapshot.NewService(snapshot.ServiceConfig{
		Runner:          runner,
		Pipeline:        pipelineCfg,
		Logger:          log,
		CacheTTL:        cfg.Cache.TTL,
		StaleIfErrorTTL: cfg.Cache.StaleIfError,
		Metrics:         providerMetrics,
	})

	refreshCfg := worker.DefaultRefreshConfig()
	refreshCfg.Interval = cfg.Worker.RefreshInterval
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:    refreshCfg,
		Refresher: snapshots,
		Logger:    log,
	})

	// Health endpoints for Cloud Run
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if !job.Healthy() {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		response.JSON(w, r, code, map[string]string{"status": status, "version": Version})
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, job.MetricsSnapshot())
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Worker.HealthPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	go job.Start(ctx)

	// On-demand refreshes arrive over Pub/Sub when configured.
	if cfg.Worker.PubSubProject != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Worker.PubSubProject,
			SubscriptionName: cfg.Worker.PubSubSubscription,
			RefreshJob:       job,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if err := handler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pubsub receive stopped")
			}
		}()
	}

	// Wait for interrupt signal
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
