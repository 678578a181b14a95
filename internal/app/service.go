package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/blackwell-systems/gittrack/internal/auth"
	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/inspector"
	"github.com/blackwell-systems/gittrack/internal/metrics"
	"github.com/blackwell-systems/gittrack/internal/remotelog"
	"github.com/blackwell-systems/gittrack/internal/repos"
	"github.com/blackwell-systems/gittrack/internal/server"
	"github.com/blackwell-systems/gittrack/internal/store"
	"github.com/blackwell-systems/gittrack/internal/tracing"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

// serviceOptions configures the long-running mirror.
type serviceOptions struct {
	Config    *config.Config
	Store     *store.Store
	Connector auth.Connector
	// Prompter is nil for the daemon child, which has no terminal.
	Prompter auth.Prompter
	Logger   *log.Logger
	// Inspector defaults to the git CLI inspector.
	Inspector watcher.Inspector
}

// service wires the lifecycle source, coordinator, scheduler and status
// server around one authenticated session.
type service struct {
	cfg    *config.Config
	logger *log.Logger

	boot      *auth.Bootstrapper
	tracer    *tracing.Tracer
	remote    *remotelog.Store
	source    *repos.Source
	coord     *watcher.Coordinator
	scheduler *watcher.Scheduler
	collector *metrics.Collector
	hub       *server.Hub
	server    *server.Server
}

// newService authenticates and builds every component. Nothing runs until
// start.
func newService(ctx context.Context, opts serviceOptions) (*service, error) {
	cfg := opts.Config
	logger := opts.Logger

	boot := auth.New(auth.Options{
		Connector: opts.Connector,
		Secrets:   auth.Chain{auth.NewEnvSecrets(), auth.NewDBSecrets(opts.Store)},
		Prompter:  opts.Prompter,
		Logger:    logger,
	})
	sess, err := boot.Authenticate(ctx)
	if err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			return nil, fmt.Errorf("%w (run 'gittrack auth login')", err)
		}
		return nil, err
	}

	source, err := repos.NewSource(repos.Options{
		Repositories:   cfg.Repositories,
		Roots:          cfg.Roots,
		Debounce:       cfg.Debounce,
		RescanInterval: cfg.RescanInterval,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	insp := opts.Inspector
	if insp == nil {
		insp = inspector.New(cfg.Timeouts.Git)
	}

	// Rows from a previous run are rebuilt as repositories open.
	if err := opts.Store.ClearRepositories(); err != nil {
		return nil, err
	}

	tracer, err := tracing.New(ctx, cfg.Tracing, Version)
	if err != nil {
		return nil, err
	}

	remote := remotelog.NewStore(sess.Backend, remotelog.Options{
		Timeout:        cfg.Timeouts.Remote,
		Location:       cfg.Location(),
		TracerProvider: tracer.Provider(),
	})

	collector := metrics.NewCollector(cfg.Metrics.Enabled, nil)
	hub := server.NewHub(logger)

	coord := watcher.New(watcher.Options{
		Source:    source,
		Inspector: insp,
		Log:       remote,
		Reporter: watcher.Reporters{
			watcher.NewLogReporter(logger.WithPrefix("commits")),
			watcher.NewMetricsReporter(collector),
			watcher.NewStoreReporter(opts.Store, logger),
			hub,
		},
		Logger:        logger,
		BackfillLimit: cfg.BackfillLimit,
	})

	svc := &service{
		cfg:       cfg,
		logger:    logger,
		boot:      boot,
		tracer:    tracer,
		remote:    remote,
		source:    source,
		coord:     coord,
		scheduler: watcher.NewScheduler(coord, cfg.ResyncSchedule, logger),
		collector: collector,
		hub:       hub,
	}

	if cfg.Server.Address != "" {
		var metricsHandler http.Handler
		if cfg.Metrics.Enabled {
			metricsHandler = collector.Handler()
		}
		svc.server = server.New(server.Options{
			Address:     cfg.Server.Address,
			Version:     Version,
			Coordinator: coord,
			Session:     svc.info,
			NextResync:  svc.scheduler.NextRun,
			Metrics:     metricsHandler,
			Hub:         hub,
			Logger:      logger,
		})
	}
	return svc, nil
}

// start begins watching. A failure leaves nothing running.
func (s *service) start() error {
	if err := s.coord.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		_ = s.coord.Stop(context.Background())
		return err
	}
	if s.server != nil {
		if err := s.server.Start(); err != nil {
			s.scheduler.Stop()
			_ = s.coord.Stop(context.Background())
			return err
		}
	}
	return nil
}

// stop shuts everything down within ctx.
func (s *service) stop(ctx context.Context) error {
	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.scheduler.Stop()
	if err := s.coord.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop coordinator: %w", err))
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
	}
	return errors.Join(errs...)
}

// reauthenticate swaps in a fresh session without restarting the
// coordinator. On failure the old session stays in place.
func (s *service) reauthenticate(ctx context.Context) error {
	sess, err := s.boot.Reauthenticate(ctx)
	if err != nil {
		s.logger.Error("re-authentication failed, keeping current session", "err", err)
		return err
	}
	s.remote.SetBackend(sess.Backend)
	s.logger.Info("session replaced", "identity", sess.Identity)
	return nil
}

func (s *service) resync(trigger string) int {
	return s.coord.ResyncAll(trigger)
}

func (s *service) info() server.Info {
	info := server.Info{Backend: s.cfg.Tracking.Backend}
	sess := s.boot.Session()
	if sess != nil {
		info.Identity = sess.Identity
		info.Target = describeTarget(s.cfg.Tracking, sess.Owner)
	}
	return info
}

// describeTarget names where the commit log lives.
func describeTarget(t config.TrackingConfig, owner string) string {
	switch t.Backend {
	case config.BackendGitHub:
		if owner == "" {
			owner = t.Owner
		}
		repo := t.Repository
		if owner != "" {
			repo = owner + "/" + repo
		}
		return fmt.Sprintf("%s@%s:%s", repo, t.Branch, t.Path)
	case config.BackendS3:
		return fmt.Sprintf("s3://%s/%s", t.S3.Bucket, t.Path)
	case config.BackendRedis:
		return fmt.Sprintf("redis://%s/%s", t.Redis.Address, t.Redis.KeyPrefix)
	default:
		return t.Backend
	}
}

// shutdownTimeout bounds how long in-flight appends may finish on stop.
const shutdownTimeout = 30 * time.Second
