package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
	"github.com/blackwell-systems/gittrack/internal/store"
)

// setupTestStore creates an in-memory SQLite store for tests and registers
// cleanup with t.Cleanup so callers don't need explicit defer.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("setupTestStore: open: %v", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		t.Fatalf("setupTestStore: schema: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// isolateState points the config directory and the path flags at a
// temporary directory for the duration of the test.
func isolateState(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, env := range []string{"GITTRACK_TOKEN", "GITHUB_TOKEN", "REDIS_PASSWORD", "GITTRACK_TRACKING_BACKEND", "GITTRACK_SERVER_ADDRESS"} {
		t.Setenv(env, "")
	}

	oldConfig, oldDB := configPath, dbPath
	configPath, dbPath = "", ""
	t.Cleanup(func() { configPath, dbPath = oldConfig, oldDB })
	return filepath.Join(dir, "gittrack")
}

func initRepo(t *testing.T, dir string) *gogit.Repository {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	return repo
}

func commitFile(t *testing.T, repo *gogit.Repository, dir, name, content string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatalf("failed to add file: %v", err)
	}
	hash, err := wt.Commit("update "+name, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

// stubInspector resolves any commit without running git.
type stubInspector struct{}

func (stubInspector) Resolve(_ context.Context, repoPath, commitID string) (*commitlog.Record, error) {
	return &commitlog.Record{
		Hash:         commitID,
		RepoName:     filepath.Base(repoPath),
		RepoPath:     repoPath,
		Branch:       "master",
		Message:      "update",
		AuthorName:   "Test User",
		AuthorEmail:  "test@example.com",
		AuthorTime:   time.Now(),
		ChangedFiles: []string{"a.txt"},
	}, nil
}

func (stubInspector) Between(context.Context, string, string, string, int) ([]string, error) {
	return nil, nil
}

// eventually polls cond until it holds or timeout passes.
func eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
