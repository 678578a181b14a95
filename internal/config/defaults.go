package config

import "time"

// Tracking backends.
const (
	BackendGitHub = "github"
	BackendS3     = "s3"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

const (
	DefaultBackend        = BackendGitHub
	DefaultRepository     = "git-track"
	DefaultBranch         = "main"
	DefaultLogPath        = "commit-details.md"
	DefaultTimezone       = "UTC"
	DefaultGitTimeout     = 10 * time.Second
	DefaultRemoteTimeout  = 30 * time.Second
	DefaultBackfillLimit  = 20
	DefaultResyncSchedule = "*/10 * * * *"
	DefaultDebounce       = 150 * time.Millisecond
	DefaultRescanInterval = 30 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultS3Region       = "us-east-1"
	DefaultRedisKeyPrefix = "gittrack"
	DefaultTraceEndpoint  = "localhost:4317"
	DefaultSampleRatio    = 1.0
	DefaultServiceName    = "gittrack"
)

// DefaultServerAddress is written by 'gittrack init'. ApplyDefaults leaves
// an empty address alone so the server stays off unless configured.
const DefaultServerAddress = "127.0.0.1:7420"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Tracking.Backend == "" {
		cfg.Tracking.Backend = DefaultBackend
	}
	if cfg.Tracking.Repository == "" {
		cfg.Tracking.Repository = DefaultRepository
	}
	if cfg.Tracking.Branch == "" {
		cfg.Tracking.Branch = DefaultBranch
	}
	if cfg.Tracking.Path == "" {
		cfg.Tracking.Path = DefaultLogPath
	}
	if cfg.Tracking.Backend == BackendS3 && cfg.Tracking.S3.Region == "" {
		cfg.Tracking.S3.Region = DefaultS3Region
	}
	if cfg.Tracking.Backend == BackendRedis && cfg.Tracking.Redis.KeyPrefix == "" {
		cfg.Tracking.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.Timeouts.Git == 0 {
		cfg.Timeouts.Git = DefaultGitTimeout
	}
	if cfg.Timeouts.Remote == 0 {
		cfg.Timeouts.Remote = DefaultRemoteTimeout
	}
	if cfg.BackfillLimit == 0 {
		cfg.BackfillLimit = DefaultBackfillLimit
	}
	if cfg.ResyncSchedule == "" {
		cfg.ResyncSchedule = DefaultResyncSchedule
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.RescanInterval == 0 {
		cfg.RescanInterval = DefaultRescanInterval
	}

	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTraceEndpoint
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultServiceName
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
