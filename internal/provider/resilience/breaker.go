// Package resilience wraps upstream HTTP calls with retries, a circuit
// breaker and a registry of provider health.
package resilience

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker in front of one provider.
type BreakerConfig struct {
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// MinRequests is the sample size required before the breaker may trip.
	MinRequests uint32
	// FailureRatio trips the breaker once reached over MinRequests.
	FailureRatio float64
}

// DefaultBreakerConfig trips at 50% failures over at least 5 requests and
// probes again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		HalfOpenRequests: 1,
		OpenTimeout:      60 * time.Second,
		MinRequests:      5,
		FailureRatio:     0.5,
	}
}

// ReadyToTrip reports whether counts exceed the configured failure budget.
func (c BreakerConfig) ReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < c.MinRequests || counts.Requests == 0 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func newBreaker[T any](name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:         name,
		MaxRequests:  cfg.HalfOpenRequests,
		Timeout:      cfg.OpenTimeout,
		ReadyToTrip:  cfg.ReadyToTrip,
		IsSuccessful: func(err error) bool {
			// A rejected request still proves the provider is up.
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return !statusErr.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}
