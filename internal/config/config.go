// Package config loads service configuration from defaults, an optional YAML
// file and BIZLEDGER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bizledger/internal/money"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "BIZLEDGER_"
	envConfigFile = "BIZLEDGER_CONFIG"

	DefaultConfigFile = "configs/config.yaml"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Version string `koanf:"version"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Storage  StorageConfig  `koanf:"storage"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Auth     AuthConfig     `koanf:"auth"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"`
}

// LedgerConfig tunes invoice and payment handling.
type LedgerConfig struct {
	Currency        string        `koanf:"currency"`
	LockTimeout     time.Duration `koanf:"lock_timeout"`
	IdempotencyTTL  time.Duration `koanf:"idempotency_ttl"`
	SummaryTTL      time.Duration `koanf:"summary_ttl"`
	ConflictRetries int           `koanf:"conflict_retries"` // 0 returns Conflict to the caller
}

type JobsConfig struct {
	Enabled              bool          `koanf:"enabled"`
	OverdueSweepInterval time.Duration `koanf:"overdue_sweep_interval"`
}

// AuthConfig enables bearer-token auth on the API when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Version: "dev",
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Storage: StorageConfig{
			Driver: StoragePostgres,
		},
		Ledger: LedgerConfig{
			Currency:       money.USD,
			LockTimeout:    5 * time.Second,
			IdempotencyTTL: 24 * time.Hour,
			SummaryTTL:     5 * time.Minute,
		},
		Jobs: JobsConfig{
			Enabled:              true,
			OverdueSweepInterval: 15 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration. The YAML file is BIZLEDGER_CONFIG when set,
// otherwise configs/config.yaml if it exists. Environment keys nest with a
// double underscore: BIZLEDGER_DATABASE__MAX_CONNS sets database.max_conns.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	path, explicit := os.LookupEnv(envConfigFile)
	if !explicit {
		path = DefaultConfigFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	if s == envConfigFile {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if err := money.ValidateCurrency(c.Ledger.Currency); err != nil {
		return fmt.Errorf("ledger.currency: %w", err)
	}
	c.Ledger.Currency = strings.ToUpper(c.Ledger.Currency)
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Jobs.Enabled && c.Jobs.OverdueSweepInterval <= 0 {
		return errors.New("jobs.overdue_sweep_interval must be positive")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
