// Package config loads the arena service configuration. Values are layered
// with koanf: struct defaults first, then an optional YAML file, then
// ARENA_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration for the arena service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	NATS      NATSConfig      `koanf:"nats"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Matcher   MatcherConfig   `koanf:"matcher"`
	Janitor   JanitorConfig   `koanf:"janitor"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig holds the Postgres pool settings. One pool is shared by the
// queue store, the pairing engine and the match ledger.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// RedisConfig holds the Redis connection used for rate limiting.
type RedisConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	DB      int    `koanf:"db"`
}

// NATSConfig holds the NATS connection used for match events.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Name    string `koanf:"name"`
}

// RateLimitConfig holds the per-user queue toggle limit and the per-IP
// request limit.
type RateLimitConfig struct {
	ToggleLimit  int           `koanf:"toggle_limit"`
	ToggleWindow time.Duration `koanf:"toggle_window"`
	IPLimit      int           `koanf:"ip_limit"`
	IPWindow     time.Duration `koanf:"ip_window"`
}

// MatcherConfig controls the background pairing sweep that picks up queued
// users whose own toggle did not find a partner.
type MatcherConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// JanitorConfig controls pruning of matched queue rows.
type JanitorConfig struct {
	Interval         time.Duration `koanf:"interval"`
	MatchedRetention time.Duration `koanf:"matched_retention"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			URL:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			QueryTimeout:    5 * time.Second,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			DB:      0,
		},
		NATS: NATSConfig{
			Enabled: true,
			URL:     "nats://localhost:4222",
			Name:    "arena-matcher",
		},
		RateLimit: RateLimitConfig{
			ToggleLimit:  10,
			ToggleWindow: time.Minute,
			IPLimit:      300,
			IPWindow:     time.Minute,
		},
		Matcher: MatcherConfig{
			Interval: 2 * time.Second,
		},
		Janitor: JanitorConfig{
			Interval:         5 * time.Minute,
			MatchedRetention: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("database.max_open_conns must be positive, got %d", c.Database.MaxOpenConns))
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, fmt.Errorf("database.max_idle_conns must be in [0, %d], got %d",
			c.Database.MaxOpenConns, c.Database.MaxIdleConns))
	}
	if c.Database.QueryTimeout <= 0 {
		errs = append(errs, errors.New("database.query_timeout must be positive"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if c.RateLimit.ToggleLimit <= 0 || c.RateLimit.ToggleWindow <= 0 {
		errs = append(errs, errors.New("ratelimit.toggle_limit and ratelimit.toggle_window must be positive"))
	}
	if c.RateLimit.IPLimit <= 0 || c.RateLimit.IPWindow <= 0 {
		errs = append(errs, errors.New("ratelimit.ip_limit and ratelimit.ip_window must be positive"))
	}
	if c.Matcher.Interval <= 0 {
		errs = append(errs, errors.New("matcher.interval must be positive"))
	}
	if c.Janitor.Interval <= 0 {
		errs = append(errs, errors.New("janitor.interval must be positive"))
	}
	if c.Janitor.MatchedRetention <= 0 {
		errs = append(errs, errors.New("janitor.matched_retention must be positive"))
	}

	return errors.Join(errs...)
}
