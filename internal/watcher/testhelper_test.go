package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
	"github.com/blackwell-systems/gittrack/internal/inspector"
	"github.com/blackwell-systems/gittrack/internal/repos"
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

// fakeSource is a Source whose HEADs are set by the test.
type fakeSource struct {
	mu       sync.Mutex
	heads    map[string]repos.Snapshot
	opened   func(repos.Snapshot)
	closed   func(string)
	changed  func(repos.Snapshot)
	started  bool
	stopped  bool
	headErrs map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{heads: make(map[string]repos.Snapshot), headErrs: make(map[string]error)}
}

func (f *fakeSource) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.heads {
		out = append(out, p)
	}
	return out
}

func (f *fakeSource) Head(path string) (repos.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.headErrs[path]; err != nil {
		return repos.Snapshot{}, err
	}
	snap, ok := f.heads[path]
	if !ok {
		return repos.Snapshot{}, fmt.Errorf("%s: %w", path, repos.ErrNotRepository)
	}
	return snap, nil
}

func (f *fakeSource) OnOpened(fn func(repos.Snapshot))       { f.opened = fn }
func (f *fakeSource) OnClosed(fn func(string))               { f.closed = fn }
func (f *fakeSource) OnStateChanged(fn func(repos.Snapshot)) { f.changed = fn }

func (f *fakeSource) Start() error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

// open adds a repository at head and fires the opened callback.
func (f *fakeSource) open(path, head string) {
	snap := repos.Snapshot{Path: path, Head: head, Branch: "main"}
	f.mu.Lock()
	f.heads[path] = snap
	f.mu.Unlock()
	f.opened(snap)
}

// commit moves HEAD and fires the state change callback.
func (f *fakeSource) commit(path, head string) {
	snap := repos.Snapshot{Path: path, Head: head, Branch: "main"}
	f.mu.Lock()
	f.heads[path] = snap
	f.mu.Unlock()
	f.changed(snap)
}

// checkout switches to branch at head and fires the state change callback.
func (f *fakeSource) checkout(path, branch, head string) {
	snap := repos.Snapshot{Path: path, Head: head, Branch: branch}
	f.mu.Lock()
	f.heads[path] = snap
	f.mu.Unlock()
	f.changed(snap)
}

func (f *fakeSource) close(path string) {
	f.mu.Lock()
	delete(f.heads, path)
	f.mu.Unlock()
	f.closed(path)
}

// fakeInspector resolves commits from a table. Between walks parents.
type fakeInspector struct {
	mu       sync.Mutex
	commits  map[string]*commitlog.Record
	parents  map[string]string
	failures map[string]error
	resolved []string
	// gate, when set, blocks Resolve after signalling entered.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{
		commits:  make(map[string]*commitlog.Record),
		parents:  make(map[string]string),
		failures: make(map[string]error),
		entered:  make(chan struct{}, 1),
	}
}

// add registers hash in repoPath with the given parent.
func (f *fakeInspector) add(repoPath, hash, parent, message string, files ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[hash] = &commitlog.Record{
		Hash:         hash,
		RepoName:     filepath.Base(repoPath),
		RepoPath:     repoPath,
		Branch:       "main",
		Message:      message,
		AuthorName:   "Jane",
		AuthorEmail:  "jane@example.com",
		AuthorTime:   time.Date(2024, 5, 1, 14, 3, 22, 0, time.UTC),
		ChangedFiles: files,
	}
	f.parents[hash] = parent
}

func (f *fakeInspector) fail(hash string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, hash)
		return
	}
	f.failures[hash] = err
}

func (f *fakeInspector) Resolve(ctx context.Context, repoPath, commitID string) (*commitlog.Record, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, commitID)
	if err := f.failures[commitID]; err != nil {
		return nil, err
	}
	rec, ok := f.commits[commitID]
	if !ok {
		return nil, &inspector.InspectionError{Reason: inspector.NotFound, RepoPath: repoPath, Commit: commitID, Err: fmt.Errorf("unknown revision")}
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeInspector) Between(_ context.Context, _ string, from, to string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var chain []string
	for c := to; c != from; c = f.parents[c] {
		if c == "" {
			return nil, inspector.ErrNotAncestor
		}
		chain = append([]string{c}, chain...)
	}
	if len(chain) > limit {
		chain = chain[len(chain)-limit:]
	}
	return chain, nil
}

// collect records reports for assertions.
type collect struct {
	mu      sync.Mutex
	reports []Report
	notify  chan Report
}

func newCollect() *collect {
	return &collect{notify: make(chan Report, 256)}
}

func (c *collect) Report(r Report) {
	c.mu.Lock()
	c.reports = append(c.reports, r)
	c.mu.Unlock()
	c.notify <- r
}

// wait returns the next report of kind, failing after a timeout.
func (c *collect) wait(t *testing.T, kind ReportKind) Report {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-c.notify:
			if r.Kind == kind {
				return r
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s report", kind)
			return Report{}
		}
	}
}

func (c *collect) count(kind ReportKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.reports {
		if r.Kind == kind {
			n++
		}
	}
	return n
}
