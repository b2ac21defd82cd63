// Package main provides the entrypoint for the RoadPulse API server.
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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/api"
	"github.com/roadpulse/roadpulse/internal/api/middleware"
	"github.com/roadpulse/roadpulse/internal/app"
	"github.com/roadpulse/roadpulse/internal/config"
	"github.com/roadpulse/roadpulse/internal/snapshot"
	"github.com/roadpulse/roadpulse/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "roadpulse-api"

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting RoadPulse API")

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.FromConfig(cfg, serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize provider metrics")
		os.Exit(1)
	}

	// Road and traffic sources
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
	log.Info().
		Dur("cache_ttl", cfg.Cache.TTL).
		Dur("stale_if_error", cfg.Cache.StaleIfError).
		Msg("snapshot service initialized")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Snapshot:    snapshots,
		Registry:    sources.Registry,
		RequireTLS:  cfg.App.RequireTLS,
		CORSOrigins: cfg.App.CORSOrigins,
		ReadRateLimit: middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimit.ReadRequests,
			WindowLength: cfg.RateLimit.Window,
		},
		RefreshRateLimit: middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimit.RefreshRequests,
			WindowLength: cfg.RateLimit.Window,
			PerEndpoint:  true,
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.App.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// A cold request runs the whole pipeline.
		WriteTimeout: cfg.Traffic.Timeout + 2*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
