package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application config.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Projector  ProjectorConfig  `koanf:"projector"`
	Reconciler ReconcilerConfig `koanf:"reconciler"`
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type ProjectorConfig struct {
	PollInterval string `koanf:"poll_interval"` // parsed and validated on startup
	BatchSize    int    `koanf:"batch_size"`
	ManifestPath string `koanf:"manifest_path"`
}

type ReconcilerConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Interval string `koanf:"interval"`
}

// PollIntervalDuration returns the parsed projector poll interval.
// Validate has already rejected unparseable values.
func (c ProjectorConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// IntervalDuration returns the parsed reconciler interval.
func (c ReconcilerConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	interval, err := time.ParseDuration(c.Projector.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid projector.poll_interval %q: %w", c.Projector.PollInterval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("projector.poll_interval must be > 0")
	}
	if c.Projector.BatchSize <= 0 {
		return fmt.Errorf("projector.batch_size must be > 0")
	}

	if c.Reconciler.Enabled {
		interval, err := time.ParseDuration(c.Reconciler.Interval)
		if err != nil {
			return fmt.Errorf("invalid reconciler.interval %q: %w", c.Reconciler.Interval, err)
		}
		if interval <= 0 {
			return fmt.Errorf("reconciler.interval must be > 0")
		}
	}

	return nil
}

// Load parses config from defaults, an optional YAML file and LIBRARIUM_*
// env vars (double underscore separates nesting, e.g.
// LIBRARIUM_DATABASE__DSN), then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"database.dsn":            "postgres://localhost:5432/librarium?sslmode=disable",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"projector.poll_interval": "500ms",
		"projector.batch_size":    256,
		"projector.manifest_path": "",
		"reconciler.enabled":      true,
		"reconciler.interval":     "5m",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("LIBRARIUM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LIBRARIUM_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
