package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blackwell-systems/gittrack/internal/store"
)

// Secret keys per backend.
const (
	GitHubTokenKey   = "github-token"
	S3CredentialsKey = "s3-credentials"
	RedisPasswordKey = "redis-password"
)

// SecretStore persists credentials.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// EnvSecrets resolves keys from environment variables. It is read-only.
type EnvSecrets struct {
	vars   map[string][]string
	lookup func(string) (string, bool)
}

// NewEnvSecrets maps the well-known keys to their environment variables.
// GITTRACK_TOKEN applies to every backend.
func NewEnvSecrets() *EnvSecrets {
	return &EnvSecrets{
		vars: map[string][]string{
			GitHubTokenKey:   {"GITTRACK_TOKEN", "GITHUB_TOKEN"},
			S3CredentialsKey: {"GITTRACK_TOKEN"},
			RedisPasswordKey: {"GITTRACK_TOKEN", "REDIS_PASSWORD"},
		},
		lookup: os.LookupEnv,
	}
}

func (e *EnvSecrets) Get(_ context.Context, key string) (string, bool, error) {
	for _, name := range e.vars[key] {
		if v, ok := e.lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true, nil
		}
	}
	return "", false, nil
}

func (e *EnvSecrets) Set(context.Context, string, string) error {
	return fmt.Errorf("environment secrets are read-only")
}

func (e *EnvSecrets) Delete(context.Context, string) error {
	return nil
}

// Source returns the variable that would satisfy key, or "".
func (e *EnvSecrets) Source(key string) string {
	for _, name := range e.vars[key] {
		if v, ok := e.lookup(name); ok && strings.TrimSpace(v) != "" {
			return name
		}
	}
	return ""
}

// DBSecrets stores credentials in the gittrack database.
type DBSecrets struct {
	st *store.Store
}

// NewDBSecrets wraps st. The database file is created with mode 0600.
func NewDBSecrets(st *store.Store) *DBSecrets {
	return &DBSecrets{st: st}
}

func (d *DBSecrets) Get(_ context.Context, key string) (string, bool, error) {
	return d.st.GetSecret(key)
}

func (d *DBSecrets) Set(_ context.Context, key, value string) error {
	return d.st.SetSecret(key, value)
}

func (d *DBSecrets) Delete(_ context.Context, key string) error {
	return d.st.DeleteSecret(key)
}

// Chain reads from each store in order and writes to the last one.
type Chain []SecretStore

func (c Chain) Get(ctx context.Context, key string) (string, bool, error) {
	for _, s := range c {
		v, ok, err := s.Get(ctx, key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func (c Chain) Set(ctx context.Context, key, value string) error {
	if len(c) == 0 {
		return fmt.Errorf("no writable secret store")
	}
	return c[len(c)-1].Set(ctx, key, value)
}

func (c Chain) Delete(ctx context.Context, key string) error {
	for _, s := range c {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
