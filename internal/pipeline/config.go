package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/spatial"
)

var (
	// ErrRoadDataUnavailable is returned when the road network cannot be
	// loaded or normalized. No partial result accompanies it.
	ErrRoadDataUnavailable = errors.New("road data unavailable")

	// ErrTrafficDataUnavailable is returned when live observations are
	// unavailable and the synthetic fallback is disabled.
	ErrTrafficDataUnavailable = errors.New("traffic data unavailable")

	// ErrInvalidConfig is returned for a configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
)

// Config is the complete, immutable input of one run.
type Config struct {
	BBox         geo.BBox
	Thresholds   congestion.Thresholds
	Quality      congestion.QualityParams
	MaxDistanceM float64

	// FetchTimeout bounds the traffic fetch independently of the run context.
	FetchTimeout time.Duration

	// Workers is the parallelism of matching and classification.
	Workers int

	// UseSyntheticFallback substitutes synthetic observations when the live
	// source fails or returns nothing. When false, such runs fail with
	// ErrTrafficDataUnavailable.
	UseSyntheticFallback bool

	// ForceSynthetic skips the live source entirely.
	ForceSynthetic bool
}

// DefaultConfig returns the default configuration for bbox.
func DefaultConfig(bbox geo.BBox) Config {
	return Config{
		BBox:                 bbox,
		Thresholds:           congestion.DefaultThresholds(),
		Quality:              congestion.DefaultQualityParams(),
		MaxDistanceM:         spatial.DefaultMaxDistanceM,
		FetchTimeout:         30 * time.Second,
		Workers:              4,
		UseSyntheticFallback: true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.BBox.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MaxDistanceM <= 0 {
		return fmt.Errorf("%w: max match distance must be positive", ErrInvalidConfig)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("%w: negative fetch timeout", ErrInvalidConfig)
	}
	return nil
}
