// Package config loads the service configuration from a YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/roadpulse/roadpulse/internal/congestion"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/pipeline"
)

// Road and traffic source kinds.
const (
	RoadSourceKSJ      = "ksj"
	RoadSourcePostgres = "postgres"

	TrafficProviderJARTIC    = "jartic"
	TrafficProviderSynthetic = "synthetic"
)

// AppConfig contains server configuration.
type AppConfig struct {
	Port        int      `yaml:"port" validate:"gt=0,lte=65535"`
	Environment string   `yaml:"environment" validate:"required"`
	RequireTLS  bool     `yaml:"requireTLS"`
	CORSOrigins []string `yaml:"corsOrigins" validate:"dive,required"`
}

// AreaConfig is the analysis area: a center and half-width, or an explicit box.
type AreaConfig struct {
	CenterLon  float64   `yaml:"centerLon" validate:"gte=-180,lte=180"`
	CenterLat  float64   `yaml:"centerLat" validate:"gte=-90,lte=90"`
	HalfWidthM float64   `yaml:"halfWidthM" validate:"gt=0"`
	BBox       []float64 `yaml:"bbox" validate:"omitempty,len=4"`
}

// CongestionConfig holds classification parameters.
type CongestionConfig struct {
	FreeKmh              float64 `yaml:"freeKmh" validate:"gtfield=ModerateKmh"`
	ModerateKmh          float64 `yaml:"moderateKmh" validate:"gt=0"`
	QualityHalfCount     float64 `yaml:"qualityHalfCount" validate:"gt=0"`
	QualityHalfDistanceM float64 `yaml:"qualityHalfDistanceM" validate:"gt=0"`
}

// MatchingConfig holds matcher parameters.
type MatchingConfig struct {
	MaxDistanceM float64 `yaml:"maxDistanceM" validate:"gt=0"`
	Workers      int     `yaml:"workers" validate:"gte=1"`
}

// RoadsConfig selects the road network source.
type RoadsConfig struct {
	Source      string `yaml:"source" validate:"oneof=ksj postgres"`
	Archive     string `yaml:"archive" validate:"required_if=Source ksj"`
	DeclaredCRS string `yaml:"declaredCRS"`
}

// TrafficConfig selects the traffic provider.
type TrafficConfig struct {
	Provider             string        `yaml:"provider" validate:"oneof=jartic synthetic"`
	BaseURL              string        `yaml:"baseURL" validate:"omitempty,url"`
	RoadType             int           `yaml:"roadType" validate:"gte=1"`
	Timeout              time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries           int           `yaml:"maxRetries" validate:"gte=0"`
	UseSyntheticFallback bool          `yaml:"useSyntheticFallback"`
}

// CacheConfig holds snapshot cache windows.
type CacheConfig struct {
	TTL          time.Duration `yaml:"ttl" validate:"gt=0"`
	StaleIfError time.Duration `yaml:"staleIfError" validate:"gtefield=TTL"`
}

// WorkerConfig holds background refresh settings.
type WorkerConfig struct {
	RefreshInterval    time.Duration `yaml:"refreshInterval" validate:"gt=0"`
	HealthPort         int           `yaml:"healthPort" validate:"gt=0,lte=65535"`
	PubSubProject      string        `yaml:"pubsubProject"`
	PubSubSubscription string        `yaml:"pubsubSubscription" validate:"required_with=PubSubProject"`
}

// RateLimitConfig holds per-client request budgets for the API.
type RateLimitConfig struct {
	Window          time.Duration `yaml:"window" validate:"gte=0"`
	ReadRequests    int           `yaml:"readRequests" validate:"gte=0"`
	RefreshRequests int           `yaml:"refreshRequests" validate:"gte=0"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint" validate:"required_if=Enabled true"`
	SampleRatio    float64       `yaml:"sampleRatio" validate:"gte=0,lte=1"`
	ExportInterval time.Duration `yaml:"exportInterval" validate:"gte=0"`
	// Insecure sends OTLP without TLS, for a collector sidecar.
	Insecure bool `yaml:"insecure"`
}

// Config is the root configuration structure.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Area       AreaConfig       `yaml:"area"`
	Congestion CongestionConfig `yaml:"congestion"`
	Matching   MatchingConfig   `yaml:"matching"`
	Roads      RoadsConfig      `yaml:"roads"`
	Traffic    TrafficConfig    `yaml:"traffic"`
	Cache      CacheConfig      `yaml:"cache"`
	Worker     WorkerConfig     `yaml:"worker"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given: a 5 km
// area around central Tokyo, live JARTIC traffic with synthetic fallback.
func Default() Config {
	return Config{
		App: AppConfig{Port: 8080, Environment: "development"},
		Area: AreaConfig{
			CenterLon:  139.7644,
			CenterLat:  35.7056,
			HalfWidthM: 5000,
		},
		Congestion: CongestionConfig{
			FreeKmh:              30,
			ModerateKmh:          20,
			QualityHalfCount:     2,
			QualityHalfDistanceM: 25,
		},
		Matching: MatchingConfig{MaxDistanceM: 50, Workers: 4},
		Roads: RoadsConfig{
			Source:      RoadSourceKSJ,
			Archive:     "N01-07L-13-01.0a_GML.zip",
			DeclaredCRS: string(geo.JGD2000),
		},
		Traffic: TrafficConfig{
			Provider:             TrafficProviderJARTIC,
			BaseURL:              "https://api.jartic-open-traffic.org/geoserver",
			RoadType:             3,
			Timeout:              30 * time.Second,
			MaxRetries:           2,
			UseSyntheticFallback: true,
		},
		Cache:  CacheConfig{TTL: 5 * time.Minute, StaleIfError: 30 * time.Minute},
		Worker: WorkerConfig{RefreshInterval: 5 * time.Minute, HealthPort: 8081},
		RateLimit: RateLimitConfig{
			Window:          time.Minute,
			ReadRequests:    100,
			RefreshRequests: 6,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   "localhost:4317",
			SampleRatio:    1,
			ExportInterval: 15 * time.Second,
			Insecure:       true,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the derived bounding box.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.BBox(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Roads.DeclaredCRS != "" {
		if _, err := geo.ToWGS84(geo.ParseCRS(c.Roads.DeclaredCRS), "config"); err != nil {
			return fmt.Errorf("invalid config: roads.declaredCRS: %w", err)
		}
	}
	return nil
}

// BBox returns the analysis bounding box.
func (c Config) BBox() (geo.BBox, error) {
	if len(c.Area.BBox) == 4 {
		return geo.NewBBox(c.Area.BBox[0], c.Area.BBox[1], c.Area.BBox[2], c.Area.BBox[3])
	}
	b := geo.BBoxAround(orb.Point{c.Area.CenterLon, c.Area.CenterLat}, c.Area.HalfWidthM)
	return b, b.Validate()
}

// Pipeline derives the immutable run configuration.
func (c Config) Pipeline() (pipeline.Config, error) {
	bbox, err := c.BBox()
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		BBox: bbox,
		Thresholds: congestion.Thresholds{
			FreeKmh:     c.Congestion.FreeKmh,
			ModerateKmh: c.Congestion.ModerateKmh,
		},
		Quality: congestion.QualityParams{
			HalfCount:     c.Congestion.QualityHalfCount,
			HalfDistanceM: c.Congestion.QualityHalfDistanceM,
		},
		MaxDistanceM:         c.Matching.MaxDistanceM,
		FetchTimeout:         c.Traffic.Timeout,
		Workers:              c.Matching.Workers,
		UseSyntheticFallback: c.Traffic.UseSyntheticFallback,
		ForceSynthetic:       c.Traffic.Provider == TrafficProviderSynthetic,
	}, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setInt("APP_PORT", &c.App.Port)
	setString("APP_ENV", &c.App.Environment)
	setBool("REQUIRE_TLS", &c.App.RequireTLS)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.App.CORSOrigins = splitList(v)
	}
	setString("ROAD_SOURCE", &c.Roads.Source)
	setString("ROAD_ARCHIVE", &c.Roads.Archive)
	setString("ROAD_DECLARED_CRS", &c.Roads.DeclaredCRS)
	setString("TRAFFIC_PROVIDER", &c.Traffic.Provider)
	setString("TRAFFIC_BASE_URL", &c.Traffic.BaseURL)
	setDuration("TRAFFIC_TIMEOUT", &c.Traffic.Timeout)
	setBool("TRAFFIC_USE_SYNTHETIC_FALLBACK", &c.Traffic.UseSyntheticFallback)
	setDuration("CACHE_TTL", &c.Cache.TTL)
	setInt("RATE_LIMIT_READ", &c.RateLimit.ReadRequests)
	setInt("RATE_LIMIT_REFRESH", &c.RateLimit.RefreshRequests)
	setDuration("WORKER_REFRESH_INTERVAL", &c.Worker.RefreshInterval)
	setString("PUBSUB_PROJECT", &c.Worker.PubSubProject)
	setString("PUBSUB_SUBSCRIPTION", &c.Worker.PubSubSubscription)
	setBool("OTEL_ENABLED", &c.Telemetry.Enabled)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	setBool("OTEL_EXPORTER_OTLP_INSECURE", &c.Telemetry.Insecure)

	// TRAFFIC_USE_SYNTHETIC replaces the live provider outright.
	var synthetic bool
	setBool("TRAFFIC_USE_SYNTHETIC", &synthetic)
	if synthetic {
		c.Traffic.Provider = TrafficProviderSynthetic
	}

	return errors.Join(errs...)
}

// splitList splits a comma-separated environment value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
