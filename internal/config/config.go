// Package config loads application configuration from defaults, a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/loader"
)

// EnvPrefix prefixes every environment variable, e.g. BANDS_ENGINE_K.
const EnvPrefix = "BANDS"

// Config represents the complete application configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" envconfig:"ENGINE"`
	Input   InputConfig   `yaml:"input" envconfig:"INPUT"`
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
	Cache   CacheConfig   `yaml:"cache" envconfig:"CACHE"`
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// EngineConfig controls band computation.
type EngineConfig struct {
	K       float64 `yaml:"k" envconfig:"K" validate:"gt=0"`
	Workers int     `yaml:"workers" envconfig:"WORKERS" validate:"gte=0"` // 0 uses GOMAXPROCS
	Level   string  `yaml:"level" envconfig:"LEVEL" validate:"oneof=group parent"`
}

// InputConfig describes the source table.
type InputConfig struct {
	Path        string         `yaml:"path" envconfig:"FILE"` // not PATH: envconfig falls back to the unprefixed name
	Sheet       string         `yaml:"sheet" envconfig:"SHEET"`
	Delimiter   string         `yaml:"delimiter" envconfig:"DELIMITER" validate:"omitempty,len=1"`
	DateLayouts []string       `yaml:"date_layouts" envconfig:"DATE_LAYOUTS"`
	Columns     loader.Columns `yaml:"columns" envconfig:"COLUMNS"`
}

// StorageConfig holds database DSNs. Empty DSNs disable the store.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	ClickhouseDSN string `yaml:"clickhouse_dsn" envconfig:"CLICKHOUSE_DSN"`
}

// CacheConfig configures the Redis result cache. An empty URL disables it.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" envconfig:"TTL" validate:"gte=0"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			K:     2.0,
			Level: string(domain.LevelGroup),
		},
		Input: InputConfig{
			Delimiter:   ",",
			DateLayouts: append([]string(nil), loader.DefaultDateLayouts...),
			Columns:     loader.DefaultColumns(),
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. Precedence: environment, then the YAML file at path
// (skipped when path is empty), then defaults. A .env file in the working directory
// is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the file keep their value.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Level returns the configured grouping level.
func (c *Config) Level() domain.Level {
	return domain.Level(c.Engine.Level)
}

// LoaderOptions converts the input section into loader options.
func (c *Config) LoaderOptions() loader.Options {
	opts := loader.Options{
		Columns:     c.Input.Columns,
		DateLayouts: c.Input.DateLayouts,
		Sheet:       c.Input.Sheet,
	}
	if c.Input.Delimiter != "" {
		opts.Comma = rune(c.Input.Delimiter[0])
	}
	return opts
}
