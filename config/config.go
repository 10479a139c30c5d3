// Package config loads the engine configuration. Values are layered:
// built-in defaults, then an optional TOML file named by HOUSECUP_CONFIG,
// then HOUSECUP_* environment variables (a .env file is read first).
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // school timezones on hosts without a zoneinfo database

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/housecup/points-engine/internal/infrastructure/scheduler"
)

// EnvPrefix prefixes every environment variable. Keys join the section and
// the field in upper snake case, e.g. HOUSECUP_HTTP_PORT or
// HOUSECUP_ENGINE_MAX_ATTEMPTS.
const EnvPrefix = "HOUSECUP"

// FileEnv names the variable holding the optional TOML file path.
const FileEnv = "HOUSECUP_CONFIG"

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig           `toml:"app"`
	HTTP          HTTPConfig          `toml:"http"`
	Store         StoreConfig         `toml:"store"`
	Redis         RedisConfig         `toml:"redis"`
	Engine        EngineConfig        `toml:"engine"`
	Subscription  SubscriptionConfig  `toml:"subscription"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Observability ObservabilityConfig `toml:"observability"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `toml:"name"`
	Environment Environment `toml:"environment"`
	Version     string      `toml:"version"`

	// Timezone is the school's zone; weeks and months for statistics start
	// there.
	Timezone string `toml:"timezone"`

	ShutdownTimeout time.Duration `toml:"shutdown_timeout" split_words:"true"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `toml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `toml:"idle_timeout" split_words:"true"`
	AllowedOrigins  []string      `toml:"allowed_origins" split_words:"true"`
	APIKeys         []string      `toml:"api_keys" split_words:"true"`
	StreamHeartbeat time.Duration `toml:"stream_heartbeat" split_words:"true"`
}

// StoreConfig selects and configures the ledger store.
type StoreConfig struct {
	// Driver is memory, postgres or sqlite.
	Driver string `toml:"driver"`

	// URL is the Postgres connection string.
	URL string `toml:"url"`

	// Path is the database file for the sqlite driver.
	Path string `toml:"path"`

	MaxConns       int32         `toml:"max_conns" split_words:"true"`
	MinConns       int32         `toml:"min_conns" split_words:"true"`
	ConnectTimeout time.Duration `toml:"connect_timeout" split_words:"true"`

	// AutoMigrate applies pending Postgres migrations at startup.
	AutoMigrate bool `toml:"auto_migrate" split_words:"true"`
}

// RedisConfig holds the optional Redis used for cross-instance event fan-out
// and the leaderboard snapshot cache.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`

	// BreakerThreshold consecutive failures open the Redis circuit for
	// BreakerTimeout.
	BreakerThreshold int           `toml:"breaker_threshold" split_words:"true"`
	BreakerTimeout   time.Duration `toml:"breaker_timeout" split_words:"true"`
}

// EngineConfig tunes the conflict retry loop.
type EngineConfig struct {
	MaxAttempts    int           `toml:"max_attempts" split_words:"true"`
	InitialBackoff time.Duration `toml:"initial_backoff" split_words:"true"`
	MaxBackoff     time.Duration `toml:"max_backoff" split_words:"true"`
	Jitter         float64       `toml:"jitter"`
}

// SubscriptionConfig tunes live updates.
type SubscriptionConfig struct {
	// Buffer is the per-subscriber queue length.
	Buffer int `toml:"buffer"`
}

// SchedulerConfig holds background job settings. Schedules are "@every <d>"
// or five-field cron expressions.
type SchedulerConfig struct {
	Enabled          bool          `toml:"enabled"`
	SnapshotSchedule string        `toml:"snapshot_schedule" split_words:"true"`
	AuditSchedule    string        `toml:"audit_schedule" split_words:"true"`
	JobTimeout       time.Duration `toml:"job_timeout" split_words:"true"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `toml:"log_level" split_words:"true"`
	LogFormat      string `toml:"log_format" split_words:"true"`
	MetricsEnabled bool   `toml:"metrics_enabled" split_words:"true"`
}

// Default returns the built-in configuration: an in-memory store, no Redis,
// and the scheduler on.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:            "housecup",
			Environment:     EnvDevelopment,
			Version:         "0.1.0",
			Timezone:        "UTC",
			ShutdownTimeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			AllowedOrigins:  []string{"*"},
			StreamHeartbeat: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver:         DriverMemory,
			Path:           "./data/housecup.db",
			MaxConns:       10,
			MinConns:       2,
			ConnectTimeout: 10 * time.Second,
			AutoMigrate:    true,
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			Channel:          "housecup:events",
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Engine: EngineConfig{
			MaxAttempts:    4,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
			Jitter:         0.5,
		},
		Subscription: SubscriptionConfig{Buffer: 64},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			SnapshotSchedule: "@every 1h",
			AuditSchedule:    "0 3 * * *",
			JobTimeout:       5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Load reads .env, the file named by HOUSECUP_CONFIG, and the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile layers path (skipped when empty) and the environment over the
// defaults, then validates.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("app.environment %q must be development, staging or production", c.App.Environment))
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("app.timezone %q is not a known zone", c.App.Timezone))
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be 1-65535")
	}

	switch c.Store.Driver {
	case DriverMemory:
		if c.App.Environment == EnvProduction {
			errs = append(errs, "store.driver memory is not durable and cannot be used in production")
		}
	case DriverPostgres:
		if c.Store.URL == "" {
			errs = append(errs, "store.url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory, postgres or sqlite", c.Store.Driver))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}

	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, "engine.max_attempts must be at least 1")
	}
	if c.Engine.InitialBackoff < 0 || c.Engine.MaxBackoff < c.Engine.InitialBackoff {
		errs = append(errs, "engine backoff must satisfy 0 <= initial_backoff <= max_backoff")
	}
	if c.Engine.Jitter < 0 || c.Engine.Jitter > 1 {
		errs = append(errs, "engine.jitter must be between 0 and 1")
	}

	if c.Subscription.Buffer < 1 {
		errs = append(errs, "subscription.buffer must be positive")
	}

	if c.Scheduler.Enabled {
		for name, expr := range map[string]string{
			"scheduler.snapshot_schedule": c.Scheduler.SnapshotSchedule,
			"scheduler.audit_schedule":    c.Scheduler.AuditSchedule,
		} {
			if _, err := scheduler.ParseSchedule(expr); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			}
		}
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level %q is not a level", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case "", "json", "text":
	default:
		errs = append(errs, "observability.log_format must be json or text")
	}

	if len(errs) > 0 {
		// Map iteration above is unordered.
		sort.Strings(errs)
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location returns the school timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
