// Package app assembles the pipeline collaborators from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/config"
	"github.com/roadpulse/roadpulse/internal/database"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/network"
	"github.com/roadpulse/roadpulse/internal/network/ksj"
	"github.com/roadpulse/roadpulse/internal/pipeline"
	"github.com/roadpulse/roadpulse/internal/provider/resilience"
	"github.com/roadpulse/roadpulse/internal/traffic"
	"github.com/roadpulse/roadpulse/internal/traffic/jartic"
)

// Sources holds the configured road and traffic sources.
type Sources struct {
	Roads    network.Source
	Traffic  traffic.Source
	Registry *resilience.Registry

	pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (s *Sources) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Option customizes NewSources.
type Option func(*options)

type options struct {
	requestMetrics resilience.RequestRecorder
}

// WithRequestMetrics records upstream traffic fetches on m.
func WithRequestMetrics(m resilience.RequestRecorder) Option {
	return func(o *options) { o.requestMetrics = m }
}

// NewSources builds the sources selected by cfg. The Postgres road source
// connects using DATABASE_URL or the DB_* environment.
func NewSources(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) (*Sources, error) {
	bbox, err := cfg.BBox()
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Sources{Registry: resilience.NewRegistry()}

	switch cfg.Roads.Source {
	case config.RoadSourcePostgres:
		dbConfig, err := database.ConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("road database config: %w", err)
		}
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			return nil, fmt.Errorf("connect road database: %w", err)
		}
		logger.Info().
			Str("target", dbConfig.Target()).
			Int32("max_conns", dbConfig.MaxConns).
			Dur("statement_timeout", dbConfig.StatementTimeout).
			Msg("database connected")
		s.pool = pool
		s.Roads = network.NewPostgresSource(pool, bbox)
	default:
		s.Roads = ksj.NewLoader(ksj.LoaderConfig{
			Path:        cfg.Roads.Archive,
			DeclaredCRS: geo.ParseCRS(cfg.Roads.DeclaredCRS),
			BBox:        &bbox,
			Logger:      logger,
		})
	}

	switch cfg.Traffic.Provider {
	case config.TrafficProviderSynthetic:
		s.Traffic = traffic.NewSyntheticSource(nil)
	default:
		httpClient := resilience.NewClient(resilience.ClientConfig{
			Name:       jartic.ProviderName,
			Timeout:    cfg.Traffic.Timeout,
			MaxRetries: uint64(cfg.Traffic.MaxRetries), //nolint:gosec // validated non-negative
			Registry:   s.Registry,
			Metrics:    o.requestMetrics,
			Logger:     logger,
		})
		s.Traffic = jartic.NewClient(jartic.ClientConfig{
			BaseURL:  cfg.Traffic.BaseURL,
			RoadType: cfg.Traffic.RoadType,
			HTTP:     httpClient,
			Logger:   logger,
		})
	}

	logger.Info().
		Str("roads", s.Roads.Name()).
		Str("traffic", s.Traffic.Name()).
		Str("bbox", bbox.String()).
		Msg("sources configured")

	return s, nil
}

// NewRunner creates a pipeline runner over the sources with metrics on the
// global meter provider.
func NewRunner(s *Sources, logger zerolog.Logger) (*pipeline.Runner, error) {
	metrics, err := pipeline.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	return pipeline.NewRunner(pipeline.RunnerConfig{
		Roads:   s.Roads,
		Traffic: s.Traffic,
		Logger:  logger,
		Metrics: metrics,
	}), nil
}
