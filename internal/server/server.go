// Package server exposes the running daemon over HTTP: a JSON status
// snapshot, Prometheus metrics, a resync trigger and a websocket stream of
// coordinator reports.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/blackwell-systems/gittrack/internal/logging"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

// Coordinator is the subset of *watcher.Coordinator the server uses.
type Coordinator interface {
	Status() []watcher.RepoStatus
	Resync(path, trigger string) error
	ResyncAll(trigger string) int
}

// Info describes the session shown by /status.
type Info struct {
	Backend  string `json:"backend"`
	Target   string `json:"target"`
	Identity string `json:"identity"`
}

// Status is the /status response body.
type Status struct {
	Version      string               `json:"version"`
	PID          int                  `json:"pid"`
	StartedAt    time.Time            `json:"started_at"`
	Session      Info                 `json:"session"`
	NextResync   *time.Time           `json:"next_resync,omitempty"`
	Repositories []watcher.RepoStatus `json:"repositories"`
}

// ResyncResponse is the /resync response body.
type ResyncResponse struct {
	Queued int `json:"queued"`
}

// Options configures a Server.
type Options struct {
	Address     string
	Version     string
	Coordinator Coordinator
	// Session is called per request so re-authentication shows up.
	Session func() Info
	// NextResync reports the next scheduled resync, may be nil.
	NextResync func() *time.Time
	Metrics    http.Handler
	Hub        *Hub
	Logger     *log.Logger
}

// Server serves the local status API.
type Server struct {
	opts      Options
	logger    *log.Logger
	startedAt time.Time
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// New creates a Server. Call Start to listen.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(logger)
	}
	return &Server{
		opts:      opts,
		logger:    logger.WithPrefix("server"),
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local tools only: no browser origins.
				return r.Header.Get("Origin") == ""
			},
		},
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Address, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", "err", err)
		}
	}()
	s.logger.Info("status server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, useful with port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.opts.Address
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server and disconnects event clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	s.opts.Hub.Close()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /resync", s.handleResync)
	mux.HandleFunc("GET /events", s.handleEvents)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := Status{
		Version:      s.opts.Version,
		PID:          os.Getpid(),
		StartedAt:    s.startedAt,
		Repositories: s.opts.Coordinator.Status(),
	}
	if s.opts.Session != nil {
		st.Session = s.opts.Session()
	}
	if s.opts.NextResync != nil {
		st.NextResync = s.opts.NextResync()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusAccepted, ResyncResponse{Queued: s.opts.Coordinator.ResyncAll("http")})
		return
	}

	if err := s.opts.Coordinator.Resync(path, "http"); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, watcher.ErrUnknownRepository) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, ResyncResponse{Queued: 1})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	s.opts.Hub.serve(conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
