package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Helper function to create an in-memory store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	if err := store.CreateSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store.db should not be nil")
	}
}

func TestNew_RestrictsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gittrack.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("database mode = %o, want 600", perm)
	}
}

func TestCreateSchema(t *testing.T) {
	store := newTestStore(t)

	tables := []string{"secrets", "repositories", "sync_history", "pending_commits"}
	for _, table := range tables {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not found: %v", table, err)
		}
	}

	// Idempotent
	if err := store.CreateSchema(); err != nil {
		t.Errorf("second CreateSchema() failed: %v", err)
	}
}

// TestNoSchema_ReturnsErrNotInitialized verifies that reads on a fresh DB
// (no CreateSchema) return ErrNotInitialized.
func TestNoSchema_ReturnsErrNotInitialized(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	if _, err := s.ListRepositories(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListRepositories() error = %v; want ErrNotInitialized", err)
	}
	if _, _, err := s.GetSecret("github-token"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("GetSecret() error = %v; want ErrNotInitialized", err)
	}
	if !strings.Contains(ErrNotInitialized.Error(), "gittrack init") {
		t.Errorf("ErrNotInitialized message %q should mention 'gittrack init'", ErrNotInitialized.Error())
	}
}

func TestSecrets(t *testing.T) {
	store := newTestStore(t)

	if _, ok, err := store.GetSecret("github-token"); err != nil || ok {
		t.Fatalf("GetSecret() on empty store = %v, %v", ok, err)
	}

	if err := store.SetSecret("github-token", "ghp_first"); err != nil {
		t.Fatalf("SetSecret() failed: %v", err)
	}
	if err := store.SetSecret("github-token", "ghp_second"); err != nil {
		t.Fatalf("SetSecret() replace failed: %v", err)
	}

	value, ok, err := store.GetSecret("github-token")
	if err != nil || !ok || value != "ghp_second" {
		t.Errorf("GetSecret() = %q, %v, %v; want ghp_second", value, ok, err)
	}

	if err := store.DeleteSecret("github-token"); err != nil {
		t.Fatalf("DeleteSecret() failed: %v", err)
	}
	if _, ok, _ := store.GetSecret("github-token"); ok {
		t.Error("secret should be gone after DeleteSecret()")
	}
	if err := store.DeleteSecret("missing"); err != nil {
		t.Errorf("DeleteSecret() on missing key: %v", err)
	}
}

func TestRepositories(t *testing.T) {
	store := newTestStore(t)

	repos := []*Repository{
		{Path: "/src/web", Name: "web", State: "listening", LastProcessed: "aaa111"},
		{Path: "/src/api", Name: "api", State: "evaluating"},
	}
	for _, r := range repos {
		if err := store.UpsertRepository(r); err != nil {
			t.Fatalf("UpsertRepository() failed: %v", err)
		}
	}

	repos[0].LastProcessed = "bbb222"
	if err := store.UpsertRepository(repos[0]); err != nil {
		t.Fatalf("UpsertRepository() update failed: %v", err)
	}

	got, err := store.ListRepositories()
	if err != nil {
		t.Fatalf("ListRepositories() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d repositories, want 2", len(got))
	}
	if got[0].Path != "/src/api" || got[1].Path != "/src/web" {
		t.Errorf("order = [%s %s], want sorted by path", got[0].Path, got[1].Path)
	}
	if got[1].LastProcessed != "bbb222" {
		t.Errorf("LastProcessed = %q, want bbb222", got[1].LastProcessed)
	}

	if err := store.DeleteRepository("/src/api"); err != nil {
		t.Fatalf("DeleteRepository() failed: %v", err)
	}
	got, _ = store.ListRepositories()
	if len(got) != 1 {
		t.Errorf("got %d repositories after delete, want 1", len(got))
	}

	if err := store.ClearRepositories(); err != nil {
		t.Fatalf("ClearRepositories() failed: %v", err)
	}
	got, _ = store.ListRepositories()
	if len(got) != 0 {
		t.Errorf("got %d repositories after clear, want 0", len(got))
	}
}

func TestHistory(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	entries := []*HistoryEntry{
		{RepoPath: "/src/api", RepoName: "api", Hash: "c1", Status: StatusLogged, CreatedAt: base},
		{RepoPath: "/src/web", RepoName: "web", Hash: "c2", Status: StatusFailed, Error: "network", CreatedAt: base.Add(time.Second)},
		{RepoPath: "/src/api", RepoName: "api", Hash: "c3", Status: StatusLogged, CreatedAt: base.Add(1500 * time.Millisecond)},
	}
	for _, e := range entries {
		if err := store.InsertHistory(e); err != nil {
			t.Fatalf("InsertHistory() failed: %v", err)
		}
		if e.ID == "" {
			t.Error("InsertHistory() should assign an ID")
		}
	}

	all, err := store.RecentHistory("", 10)
	if err != nil {
		t.Fatalf("RecentHistory() failed: %v", err)
	}
	if len(all) != 3 || all[0].Hash != "c3" || all[2].Hash != "c1" {
		t.Errorf("RecentHistory() order wrong: %v", hashes(all))
	}

	api, err := store.RecentHistory("/src/api", 10)
	if err != nil {
		t.Fatalf("RecentHistory() failed: %v", err)
	}
	if len(api) != 2 {
		t.Errorf("got %d api entries, want 2", len(api))
	}

	limited, _ := store.RecentHistory("", 1)
	if len(limited) != 1 {
		t.Errorf("limit not applied: %d", len(limited))
	}

	failed, err := store.CountHistory(StatusFailed)
	if err != nil || failed != 1 {
		t.Errorf("CountHistory(failed) = %d, %v; want 1", failed, err)
	}
}

func TestPending(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordPending("/src/api", "c1", "timeout"); err != nil {
		t.Fatalf("RecordPending() failed: %v", err)
	}
	if err := store.RecordPending("/src/api", "c1", "conflict"); err != nil {
		t.Fatalf("RecordPending() repeat failed: %v", err)
	}
	if err := store.RecordPending("/src/web", "c2", "auth"); err != nil {
		t.Fatalf("RecordPending() failed: %v", err)
	}

	pending, err := store.ListPending()
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	for _, p := range pending {
		if p.Hash == "c1" && (p.Attempts != 2 || p.LastError != "conflict") {
			t.Errorf("c1 = %+v, want 2 attempts and last error conflict", p)
		}
	}

	if err := store.ClearPending("/src/api", "c1"); err != nil {
		t.Fatalf("ClearPending() failed: %v", err)
	}
	if err := store.ClearPendingForRepo("/src/web"); err != nil {
		t.Fatalf("ClearPendingForRepo() failed: %v", err)
	}
	pending, _ = store.ListPending()
	if len(pending) != 0 {
		t.Errorf("got %d pending after clear, want 0", len(pending))
	}
}

func hashes(entries []*HistoryEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Hash)
	}
	return out
}
