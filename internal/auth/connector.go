package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/remotelog"
)

// Session is an authenticated connection to the tracking backend.
type Session struct {
	Backend     remotelog.Backend
	BackendName string
	// Identity is who the credential belongs to: the GitHub login, the
	// S3 bucket or the redis address.
	Identity string
	// Owner of the tracking repository, defaulting to Identity on GitHub.
	Owner string
	// Created is set when the tracking repository was created on connect.
	Created bool
}

// Connector validates a credential against one backend kind and builds
// the remote log backend for it.
type Connector interface {
	Name() string
	// SecretKey names the credential in the secret store, "" when the
	// backend needs none.
	SecretKey() string
	// TokenRequired reports whether connecting without a credential is
	// pointless.
	TokenRequired() bool
	PromptText() (title, description string)
	// Connect returns an error wrapping remotelog.ErrUnauthorized when the
	// credential is rejected.
	Connect(ctx context.Context, token string) (*Session, error)
}

// NewConnector returns the connector for the configured backend.
func NewConnector(t config.TrackingConfig) (Connector, error) {
	switch t.Backend {
	case config.BackendGitHub:
		return &GitHubConnector{Tracking: t}, nil
	case config.BackendS3:
		return &S3Connector{Tracking: t}, nil
	case config.BackendRedis:
		return &RedisConnector{Tracking: t}, nil
	case config.BackendMemory:
		return NewMemoryConnector(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", t.Backend)
	}
}

// GitHubConnector authenticates with a personal access token.
type GitHubConnector struct {
	Tracking config.TrackingConfig
}

func (c *GitHubConnector) Name() string        { return config.BackendGitHub }
func (c *GitHubConnector) SecretKey() string   { return GitHubTokenKey }
func (c *GitHubConnector) TokenRequired() bool { return true }

func (c *GitHubConnector) PromptText() (string, string) {
	return "GitHub personal access token", "Needs the repo scope to write the commit log."
}

func (c *GitHubConnector) Connect(ctx context.Context, token string) (*Session, error) {
	client, err := remotelog.NewGitHubClient(token, c.Tracking.GitHubURL)
	if err != nil {
		return nil, err
	}

	login, err := remotelog.AuthenticatedUser(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated user: %w", err)
	}

	owner := c.Tracking.Owner
	if owner == "" {
		owner = login
	}
	backend := remotelog.NewGitHubBackend(client, remotelog.GitHubOptions{
		Owner:      owner,
		Repository: c.Tracking.Repository,
		Branch:     c.Tracking.Branch,
		Path:       c.Tracking.Path,
	})

	sess := &Session{Backend: backend, BackendName: c.Name(), Identity: login, Owner: owner}
	if c.Tracking.ShouldCreateRepository() {
		created, err := backend.EnsureRepository(ctx, login)
		if err != nil {
			return nil, fmt.Errorf("failed to ensure tracking repository: %w", err)
		}
		sess.Created = created
	}
	return sess, nil
}

// S3Connector authenticates with an "ACCESS_KEY_ID:SECRET_ACCESS_KEY" pair.
type S3Connector struct {
	Tracking config.TrackingConfig
	// NewClient overrides the SDK client, used by tests.
	NewClient func(opts remotelog.S3Options, accessKeyID, secretAccessKey string) remotelog.S3Client
}

func (c *S3Connector) Name() string        { return config.BackendS3 }
func (c *S3Connector) SecretKey() string   { return S3CredentialsKey }
func (c *S3Connector) TokenRequired() bool { return true }

func (c *S3Connector) PromptText() (string, string) {
	return "S3 credentials", "Enter ACCESS_KEY_ID:SECRET_ACCESS_KEY."
}

func (c *S3Connector) Connect(ctx context.Context, token string) (*Session, error) {
	akid, secret, ok := strings.Cut(token, ":")
	if !ok || akid == "" || secret == "" {
		return nil, fmt.Errorf("%w: expected ACCESS_KEY_ID:SECRET_ACCESS_KEY", remotelog.ErrUnauthorized)
	}

	opts := remotelog.S3Options{
		Bucket:   c.Tracking.S3.Bucket,
		Key:      c.Tracking.Path,
		Region:   c.Tracking.S3.Region,
		Endpoint: c.Tracking.S3.Endpoint,
	}
	var client remotelog.S3Client
	if c.NewClient != nil {
		client = c.NewClient(opts, akid, secret)
	} else {
		client = remotelog.NewS3Client(opts, akid, secret)
	}

	backend := remotelog.NewS3Backend(client, opts.Bucket, opts.Key)
	if err := backend.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach bucket %s: %w", opts.Bucket, err)
	}
	return &Session{Backend: backend, BackendName: c.Name(), Identity: opts.Bucket}, nil
}

// RedisConnector authenticates with an optional password.
type RedisConnector struct {
	Tracking config.TrackingConfig
}

func (c *RedisConnector) Name() string        { return config.BackendRedis }
func (c *RedisConnector) SecretKey() string   { return RedisPasswordKey }
func (c *RedisConnector) TokenRequired() bool { return false }

func (c *RedisConnector) PromptText() (string, string) {
	return "Redis password", "Leave empty when the server has no password."
}

func (c *RedisConnector) Connect(ctx context.Context, token string) (*Session, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Tracking.Redis.Address,
		Password: token,
		DB:       c.Tracking.Redis.DB,
	})

	backend := remotelog.NewRedisBackend(rdb, c.Tracking.Redis.KeyPrefix)
	if err := backend.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", c.Tracking.Redis.Address, err)
	}
	return &Session{Backend: backend, BackendName: c.Name(), Identity: c.Tracking.Redis.Address}, nil
}

// MemoryConnector serves one in-process log. Every Connect returns the
// same backend so sessions survive re-authentication.
type MemoryConnector struct {
	backend *remotelog.MemoryBackend
}

func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{backend: remotelog.NewMemoryBackend()}
}

func (c *MemoryConnector) Name() string                 { return config.BackendMemory }
func (c *MemoryConnector) SecretKey() string            { return "" }
func (c *MemoryConnector) TokenRequired() bool          { return false }
func (c *MemoryConnector) PromptText() (string, string) { return "", "" }

func (c *MemoryConnector) Connect(context.Context, string) (*Session, error) {
	return &Session{Backend: c.backend, BackendName: c.Name(), Identity: "local"}, nil
}

// Backend exposes the shared in-memory log.
func (c *MemoryConnector) Backend() *remotelog.MemoryBackend {
	return c.backend
}
