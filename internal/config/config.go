// Package config provides configuration file parsing for gittrack.
package config

import (
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"
)

// Dir returns the gittrack config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/gittrack if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "gittrack"), nil
}

// DefaultPath returns {Dir}/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Config is the root gittrack configuration.
type Config struct {
	Tracking       TrackingConfig `yaml:"tracking"`
	Repositories   []string       `yaml:"repositories"`
	Roots          []string       `yaml:"roots"`
	Timezone       string         `yaml:"timezone"`
	Timeouts       TimeoutsConfig `yaml:"timeouts"`
	BackfillLimit  int            `yaml:"backfill_limit"`
	ResyncSchedule string         `yaml:"resync_schedule"`
	Debounce       time.Duration  `yaml:"debounce"`
	RescanInterval time.Duration  `yaml:"rescan_interval"`
	Server         ServerConfig   `yaml:"server"`
	Metrics        MetricsConfig  `yaml:"metrics"`
	Tracing        TracingConfig  `yaml:"tracing"`
	Log            LogConfig      `yaml:"log"`
}

// TrackingConfig locates the shared commit log.
type TrackingConfig struct {
	// Backend is one of github, s3, redis or memory.
	Backend string `yaml:"backend"`

	// Owner of the tracking repository. Empty means the authenticated user.
	Owner      string `yaml:"owner"`
	Repository string `yaml:"repository"`
	Branch     string `yaml:"branch"`
	Path       string `yaml:"path"`

	// CreateRepository creates a missing GitHub tracking repository.
	CreateRepository *bool  `yaml:"create_repository,omitempty"`
	GitHubURL        string `yaml:"github_url,omitempty"`

	S3    S3Config    `yaml:"s3,omitempty"`
	Redis RedisConfig `yaml:"redis,omitempty"`
}

// ShouldCreateRepository reports whether a missing repository is created.
func (t TrackingConfig) ShouldCreateRepository() bool {
	return t.CreateRepository == nil || *t.CreateRepository
}

type S3Config struct {
	Bucket   string `yaml:"bucket,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

type RedisConfig struct {
	Address   string `yaml:"address,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

type TimeoutsConfig struct {
	Git    time.Duration `yaml:"git"`
	Remote time.Duration `yaml:"remote"`
}

// ServerConfig controls the local status server. An empty address
// disables it.
type ServerConfig struct {
	Address string `yaml:"address"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig exports OpenTelemetry spans over OTLP/gRPC.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Insecure    bool    `yaml:"insecure,omitempty"`
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`
	ServiceName string  `yaml:"service_name,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Location returns the time zone used for log timestamps.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
