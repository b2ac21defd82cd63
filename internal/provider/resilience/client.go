package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// defaultMaxBodyBytes caps upstream payloads.
const defaultMaxBodyBytes = 32 << 20

var (
	// ErrCircuitOpen is returned without calling upstream while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrBodyTooLarge is returned when a payload exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")
)

// StatusError reports a non-2xx upstream response. 5xx responses are retried
// and count against the breaker; 4xx responses are returned immediately.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// RequestRecorder receives the outcome of every upstream fetch.
type RequestRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name identifies the provider in the breaker, the registry and logs.
	Name string
	// Timeout bounds each attempt. Default: 30s.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt. Default: 2.
	MaxRetries uint64
	// InitialInterval is the first backoff delay. Default: 200ms.
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay. Default: 5s.
	MaxInterval time.Duration
	// MaxBodyBytes caps the payload size. Default: 32 MiB.
	MaxBodyBytes int64
	// Breaker configures the circuit breaker; zero value means defaults.
	Breaker BreakerConfig
	// Registry, when set, receives the client and its success/failure outcomes.
	Registry *Registry
	// Metrics, when set, records request durations and outcomes.
	Metrics RequestRecorder
	// Transport overrides the HTTP transport, for tests.
	Transport http.RoundTripper
	Logger    zerolog.Logger
}

// Client fetches upstream payloads with retries behind a circuit breaker.
type Client struct {
	name       string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	cfg        ClientConfig
	registry   *Registry
	logger     zerolog.Logger
}

// NewClient creates a resilient client and registers it when a registry is configured.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}

	logger := cfg.Logger.With().Str("provider", cfg.Name).Logger()
	c := &Client{
		name: cfg.Name,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		breaker:  newBreaker[[]byte](cfg.Name, cfg.Breaker, logger),
		cfg:      cfg,
		registry: cfg.Registry,
		logger:   logger,
	}
	if c.registry != nil {
		c.registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Counts returns the breaker counters.
func (c *Client) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}

// Get fetches url and returns the response body. Transport errors, 5xx and
// 429 are retried with exponential backoff; other statuses fail at once
// with a *StatusError.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	start := time.Now()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	var body []byte
	attempt := 0
	operation := func() error {
		attempt++
		data, err := c.breaker.Execute(func() ([]byte, error) {
			return c.fetch(ctx, url, header)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Temporary() {
				return backoff.Permanent(err)
			}
			if errors.Is(err, ErrBodyTooLarge) {
				return backoff.Permanent(err)
			}
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("upstream attempt failed")
			return err
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		c.recordFailure(err)
		c.recordRequest(start, err)
		return nil, err
	}

	c.recordSuccess()
	c.recordRequest(start, nil)
	return body, nil
}

func (c *Client) fetch(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func (c *Client) recordSuccess() {
	if c.registry != nil {
		c.registry.RecordSuccess(c.name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.registry != nil {
		c.registry.RecordFailure(c.name, err)
	}
}

func (c *Client) recordRequest(start time.Time, err error) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordRequest(c.name, "get", time.Since(start), err)
	}
}
