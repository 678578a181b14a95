package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, applies defaults and GITTRACK_*
// environment overrides, then validates. A missing file yields the
// default configuration so gittrack can run from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	if err := normalizePaths(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration file %q: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies GITTRACK_SECTION_FIELD variables.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GITTRACK_TRACKING_BACKEND"); val != "" {
		cfg.Tracking.Backend = val
	}
	if val := os.Getenv("GITTRACK_TRACKING_OWNER"); val != "" {
		cfg.Tracking.Owner = val
	}
	if val := os.Getenv("GITTRACK_TRACKING_REPOSITORY"); val != "" {
		cfg.Tracking.Repository = val
	}
	if val := os.Getenv("GITTRACK_TRACKING_BRANCH"); val != "" {
		cfg.Tracking.Branch = val
	}
	if val := os.Getenv("GITTRACK_TRACKING_PATH"); val != "" {
		cfg.Tracking.Path = val
	}
	if val := os.Getenv("GITTRACK_TRACKING_GITHUB_URL"); val != "" {
		cfg.Tracking.GitHubURL = val
	}
	if val := os.Getenv("GITTRACK_TRACKING_CREATE_REPOSITORY"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Tracking.CreateRepository = &b
		}
	}
	if val := os.Getenv("GITTRACK_S3_BUCKET"); val != "" {
		cfg.Tracking.S3.Bucket = val
	}
	if val := os.Getenv("GITTRACK_S3_REGION"); val != "" {
		cfg.Tracking.S3.Region = val
	}
	if val := os.Getenv("GITTRACK_S3_ENDPOINT"); val != "" {
		cfg.Tracking.S3.Endpoint = val
	}
	if val := os.Getenv("GITTRACK_REDIS_ADDRESS"); val != "" {
		cfg.Tracking.Redis.Address = val
	}
	if val := os.Getenv("GITTRACK_REDIS_DB"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Tracking.Redis.DB = i
		}
	}
	if val := os.Getenv("GITTRACK_REDIS_KEY_PREFIX"); val != "" {
		cfg.Tracking.Redis.KeyPrefix = val
	}

	if val := os.Getenv("GITTRACK_REPOSITORIES"); val != "" {
		cfg.Repositories = filepath.SplitList(val)
	}
	if val := os.Getenv("GITTRACK_ROOTS"); val != "" {
		cfg.Roots = filepath.SplitList(val)
	}
	if val := os.Getenv("GITTRACK_TIMEZONE"); val != "" {
		cfg.Timezone = val
	}
	if val := os.Getenv("GITTRACK_TIMEOUTS_GIT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Timeouts.Git = d
		}
	}
	if val := os.Getenv("GITTRACK_TIMEOUTS_REMOTE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Timeouts.Remote = d
		}
	}
	if val := os.Getenv("GITTRACK_BACKFILL_LIMIT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.BackfillLimit = i
		}
	}
	if val := os.Getenv("GITTRACK_RESYNC_SCHEDULE"); val != "" {
		cfg.ResyncSchedule = val
	}
	if val := os.Getenv("GITTRACK_SERVER_ADDRESS"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("GITTRACK_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("GITTRACK_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("GITTRACK_TRACING_ENDPOINT"); val != "" {
		cfg.Tracing.Endpoint = val
	}
	if val := os.Getenv("GITTRACK_TRACING_INSECURE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Tracing.Insecure = b
		}
	}
	if val := os.Getenv("GITTRACK_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Tracing.SampleRatio = f
		}
	}

	if val := os.Getenv("GITTRACK_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("GITTRACK_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
}

// normalizePaths expands ~ and makes repository and root paths absolute.
func normalizePaths(cfg *Config) error {
	for _, list := range []*[]string{&cfg.Repositories, &cfg.Roots} {
		out := make([]string, 0, len(*list))
		seen := make(map[string]bool)
		for _, p := range *list {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			abs, err := ExpandPath(p)
			if err != nil {
				return err
			}
			if seen[abs] {
				continue
			}
			seen[abs] = true
			out = append(out, abs)
		}
		*list = out
	}
	return nil
}

// ExpandPath resolves a leading ~ and returns a clean absolute path.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand %q: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", p, err)
	}
	return abs, nil
}
