package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override the YAML file.
// Nested keys use a double underscore: ROBOTS_STORAGE__DSN -> storage.dsn.
const EnvPrefix = "ROBOTS_"

// Config represents the overall application configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Transfer TransferConfig `yaml:"transfer"`
	Log      LogConfig      `yaml:"log"`
	Seed     SeedConfig     `yaml:"seed"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Backend                string `yaml:"backend" validate:"oneof=sqlite postgres snapshot"`
	DSN                    string `yaml:"dsn" validate:"required_unless=Backend snapshot"`
	SnapshotPath           string `yaml:"snapshot_path" validate:"required_if=Backend snapshot"`
	MaxOpenConns           int    `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns           int    `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" validate:"gte=0"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// CacheConfig holds the query cache settings.
type CacheConfig struct {
	Enabled                bool          `yaml:"enabled"`
	TTLSeconds             int           `yaml:"ttl_seconds" validate:"gte=0"`
	TTL                    time.Duration `yaml:"-"`
	CleanupIntervalSeconds int           `yaml:"cleanup_interval_seconds" validate:"gte=0"`
	CleanupInterval        time.Duration `yaml:"-"`
}

// TransferConfig holds the import/export file settings.
type TransferConfig struct {
	Dir              string `yaml:"dir" validate:"required"`
	Format           string `yaml:"format" validate:"oneof=json yaml"`
	ExportOnShutdown bool   `yaml:"export_on_shutdown"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// SeedConfig names an export document imported once at startup.
type SeedConfig struct {
	Path string `yaml:"path"`
}

// Load reads the configuration from the given path, applies environment
// overrides and defaults, then validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays ROBOTS_* variables onto cfg using the yaml key names.
func applyEnv(cfg *Config) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return fmt.Errorf("load environment overrides: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("apply environment overrides: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.Backend == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "robots.db"
	}
	if cfg.Storage.Backend == "snapshot" && cfg.Storage.SnapshotPath == "" {
		cfg.Storage.SnapshotPath = "robots-store-v1.json"
	}
	if cfg.Storage.MaxOpenConns <= 0 {
		cfg.Storage.MaxOpenConns = 10
	}
	if cfg.Storage.MaxIdleConns <= 0 {
		cfg.Storage.MaxIdleConns = 2
	}

	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 300
	}
	cfg.Cache.TTL = time.Duration(cfg.Cache.TTLSeconds) * time.Second
	if cfg.Cache.CleanupIntervalSeconds <= 0 {
		cfg.Cache.CleanupIntervalSeconds = 600
	}
	cfg.Cache.CleanupInterval = time.Duration(cfg.Cache.CleanupIntervalSeconds) * time.Second

	if cfg.Transfer.Dir == "" {
		cfg.Transfer.Dir = "./exports"
	}
	if cfg.Transfer.Format == "" {
		cfg.Transfer.Format = "json"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
