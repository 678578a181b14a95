package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blackwell-systems/gittrack/internal/logging"
	"github.com/blackwell-systems/gittrack/internal/metrics"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

type fakeCoordinator struct {
	mu      sync.Mutex
	status  []watcher.RepoStatus
	resyncs []string
}

func (f *fakeCoordinator) Status() []watcher.RepoStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeCoordinator) Resync(path, trigger string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.status {
		if st.Path == path {
			f.resyncs = append(f.resyncs, path+":"+trigger)
			return nil
		}
	}
	return fmt.Errorf("%s: %w", path, watcher.ErrUnknownRepository)
}

func (f *fakeCoordinator) ResyncAll(trigger string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs = append(f.resyncs, "*:"+trigger)
	return len(f.status)
}

func newTestServer(t *testing.T) (*Server, *fakeCoordinator, *Client) {
	t.Helper()
	coord := &fakeCoordinator{status: []watcher.RepoStatus{
		{Path: "/repos/api", Name: "api", State: watcher.StateListening, LastProcessed: "aaa111"},
	}}
	collector := metrics.NewCollector(true, nil)
	collector.SetWatched(1)

	next := time.Date(2024, 5, 1, 14, 10, 0, 0, time.UTC)
	s := New(Options{
		Version:     "test",
		Coordinator: coord,
		Session:     func() Info { return Info{Backend: "github", Target: "github:jane/git-track@main:commit-details.md", Identity: "jane"} },
		NextResync:  func() *time.Time { return &next },
		Metrics:     collector.Handler(),
		Logger:      logging.Discard(),
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, coord, NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

func TestStatus(t *testing.T) {
	_, _, client := newTestServer(t)

	st, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Version != "test" || st.Session.Identity != "jane" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Repositories) != 1 || st.Repositories[0].State != watcher.StateListening {
		t.Errorf("repositories = %+v", st.Repositories)
	}
	if st.NextResync == nil || st.NextResync.Minute() != 10 {
		t.Errorf("NextResync = %v", st.NextResync)
	}
}

func TestResync(t *testing.T) {
	_, coord, client := newTestServer(t)
	ctx := context.Background()

	n, err := client.Resync(ctx, "")
	if err != nil || n != 1 {
		t.Errorf("Resync(all) = %d, %v", n, err)
	}
	if _, err := client.Resync(ctx, "/repos/api"); err != nil {
		t.Errorf("Resync(path) error = %v", err)
	}
	if _, err := client.Resync(ctx, "/repos/missing"); !errors.Is(err, watcher.ErrUnknownRepository) {
		t.Errorf("Resync(missing) error = %v, want ErrUnknownRepository", err)
	}

	want := []string{"*:http", "/repos/api:http"}
	if strings.Join(coord.resyncs, ",") != strings.Join(want, ",") {
		t.Errorf("resyncs = %v, want %v", coord.resyncs, want)
	}
}

func TestResync_MethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resync", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /resync = %d, want 405", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !strings.Contains(string(body), "gittrack_repositories_watched 1") {
		t.Errorf("GET /metrics = %d:\n%s", rec.Code, body)
	}
}

func TestEvents(t *testing.T) {
	s, _, client := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan watcher.Report, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Events(ctx, func(r watcher.Report) { got <- r })
	}()

	deadline := time.Now().Add(5 * time.Second)
	for s.opts.Hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.opts.Hub.Clients() != 1 {
		t.Fatalf("Clients() = %d, want 1", s.opts.Hub.Clients())
	}

	s.opts.Hub.Report(watcher.Report{Kind: watcher.ReportLogged, RepoName: "api", Commit: "bbb222"})

	select {
	case r := <-got:
		if r.Kind != watcher.ReportLogged || r.Commit != "bbb222" {
			t.Errorf("report = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Events() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Events did not return after cancel")
	}
}

func TestStartShutdown(t *testing.T) {
	s := New(Options{Address: "127.0.0.1:0", Coordinator: &fakeCoordinator{}})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
