// Package database opens the PostgreSQL/PostGIS pool that backs the
// road network source.
package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultApplicationName tags pool sessions in pg_stat_activity.
const DefaultApplicationName = "roadpulse"

// Config describes the road database and its pool.
type Config struct {
	// URL, when set, replaces the discrete connection fields.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	ApplicationName  string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	ConnectTimeout   time.Duration
	// StatementTimeout bounds each road query server-side. Zero keeps the
	// server default.
	StatementTimeout time.Duration
}

// ConfigFromEnv reads the DB_* variables, or DATABASE_URL when set.
// Malformed numeric and duration values are reported together.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:              os.Getenv("DATABASE_URL"),
		Host:             getEnvOrDefault("DB_HOST", "localhost"),
		Port:             5432,
		User:             getEnvOrDefault("DB_USER", "roadpulse"),
		Password:         getEnvOrDefault("DB_PASSWORD", "localdev"),
		Database:         getEnvOrDefault("DB_NAME", "roadpulse"),
		SSLMode:          getEnvOrDefault("DB_SSL_MODE", "disable"),
		ApplicationName:  getEnvOrDefault("DB_APPLICATION_NAME", DefaultApplicationName),
		MaxConns:         10,
		MinConns:         2,
		MaxConnLifetime:  5 * time.Minute,
		ConnectTimeout:   10 * time.Second,
		StatementTimeout: 30 * time.Second,
	}

	var errs []error
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DB_PORT: %w", err))
		}
		cfg.Port = port
	}
	for key, dst := range map[string]*int32{
		"DB_MAX_CONNS": &cfg.MaxConns,
		"DB_MIN_CONNS": &cfg.MinConns,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = int32(n)
		}
	}
	for key, dst := range map[string]*time.Duration{
		"DB_CONN_MAX_LIFETIME": &cfg.MaxConnLifetime,
		"DB_CONNECT_TIMEOUT":   &cfg.ConnectTimeout,
		"DB_STATEMENT_TIMEOUT": &cfg.StatementTimeout,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = d
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the pool bounds.
func (c Config) Validate() error {
	var errs []error
	if c.URL == "" && (c.Port <= 0 || c.Port > 65535) {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxConns <= 0 {
		errs = append(errs, errors.New("max conns must be positive"))
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		errs = append(errs, fmt.Errorf("min conns %d outside [0, %d]", c.MinConns, c.MaxConns))
	}
	return errors.Join(errs...)
}

// ConnectionString returns the PostgreSQL URL. Credentials are escaped.
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Target describes the server for logs without exposing credentials.
func (c Config) Target() string {
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return "invalid DATABASE_URL"
		}
		return u.Host + u.Path
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/" + c.Database
}

// PoolConfig parses the connection string and applies the pool settings.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = c.MaxConns
	poolConfig.MinConns = c.MinConns
	if c.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}

	params := poolConfig.ConnConfig.RuntimeParams
	if c.ApplicationName != "" {
		params["application_name"] = c.ApplicationName
	}
	if c.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}
	return poolConfig, nil
}

// Connect opens the pool and pings the server once.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Target(), err)
	}

	return pool, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
