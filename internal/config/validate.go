package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleDisabled turns the periodic resync off.
const ScheduleDisabled = "off"

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateTracking(&cfg.Tracking)...)

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, FieldError{"timezone", fmt.Sprintf("unknown time zone %q", cfg.Timezone)})
	}
	if cfg.Timeouts.Git <= 0 {
		errs = append(errs, FieldError{"timeouts.git", "must be positive"})
	}
	if cfg.Timeouts.Remote <= 0 {
		errs = append(errs, FieldError{"timeouts.remote", "must be positive"})
	}
	if cfg.BackfillLimit < 1 || cfg.BackfillLimit > 1000 {
		errs = append(errs, FieldError{"backfill_limit", "must be between 1 and 1000"})
	}
	if cfg.ResyncSchedule != ScheduleDisabled {
		if _, err := cron.ParseStandard(cfg.ResyncSchedule); err != nil {
			errs = append(errs, FieldError{"resync_schedule", fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	if cfg.Debounce < 0 {
		errs = append(errs, FieldError{"debounce", "must not be negative"})
	}
	if cfg.RescanInterval < time.Second {
		errs = append(errs, FieldError{"rescan_interval", "must be at least 1s"})
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{"tracing.endpoint", "is required when tracing is enabled"})
		}
		if cfg.Tracing.SampleRatio <= 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{"tracing.sample_ratio", "must be in (0, 1]"})
		}
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{"log.level", fmt.Sprintf("must be debug, info, warn or error, got %q", cfg.Log.Level)})
	}
	switch cfg.Log.Format {
	case "text", "json", "logfmt":
	default:
		errs = append(errs, FieldError{"log.format", fmt.Sprintf("must be text, json or logfmt, got %q", cfg.Log.Format)})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateTracking(t *TrackingConfig) []FieldError {
	var errs []FieldError

	switch t.Backend {
	case BackendGitHub:
		if t.Repository == "" {
			errs = append(errs, FieldError{"tracking.repository", "is required"})
		}
		if t.Branch == "" {
			errs = append(errs, FieldError{"tracking.branch", "is required"})
		}
	case BackendS3:
		if t.S3.Bucket == "" {
			errs = append(errs, FieldError{"tracking.s3.bucket", "is required for the s3 backend"})
		}
	case BackendRedis:
		if t.Redis.Address == "" {
			errs = append(errs, FieldError{"tracking.redis.address", "is required for the redis backend"})
		}
	case BackendMemory:
	default:
		errs = append(errs, FieldError{"tracking.backend", fmt.Sprintf("must be github, s3, redis or memory, got %q", t.Backend)})
	}

	if t.Path == "" {
		errs = append(errs, FieldError{"tracking.path", "is required"})
	} else if strings.HasPrefix(t.Path, "/") || strings.Contains(t.Path, "..") {
		errs = append(errs, FieldError{"tracking.path", "must be a relative path without .."})
	}
	return errs
}
