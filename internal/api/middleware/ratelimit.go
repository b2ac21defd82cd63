package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/roadpulse/roadpulse/internal/api/models"
)

// RateLimitConfig is a fixed-window request budget per client.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
	// PerEndpoint gives each route its own budget.
	PerEndpoint bool
}

// Default budgets.
var (
	// RefreshRateLimit guards the endpoint that forces a pipeline run.
	RefreshRateLimit = RateLimitConfig{RequestLimit: 6, WindowLength: time.Minute, PerEndpoint: true}

	// StandardRateLimit guards the cached congestion reads.
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// OrDefault returns c, or def when c sets no budget.
func (c RateLimitConfig) OrDefault(def RateLimitConfig) RateLimitConfig {
	if c.RequestLimit <= 0 || c.WindowLength <= 0 {
		return def
	}
	return c
}

// RateLimit limits requests per client IP, as resolved by chi's RealIP,
// and per route when cfg.PerEndpoint is set. Rejections are 429 problems.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keys := []httprate.KeyFunc{httprate.KeyByRealIP}
	if cfg.PerEndpoint {
		keys = append(keys, httprate.KeyByEndpoint)
	}
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(keys...),
		httprate.WithLimitHandler(limitExceeded(cfg.WindowLength)),
	)
}

// limitExceeded answers with the whole window as Retry-After; httprate
// does not expose the exact reset time to the handler.
func limitExceeded(window time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()),
			"Rate limit exceeded. Please try again later.", window)
		problem.Instance = r.URL.Path
		problem.Write(w)
	}
}
