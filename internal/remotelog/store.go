package remotelog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
)

// DefaultTimeout bounds a whole Append, retry included.
const DefaultTimeout = 30 * time.Second

const tracerName = "github.com/blackwell-systems/gittrack/internal/remotelog"

// Options configures a Store.
type Options struct {
	Timeout  time.Duration
	Location *time.Location
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Store prepends commit entries to the remote log. It holds no state
// besides the session backend, which may be replaced at runtime.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	timeout time.Duration
	loc     *time.Location
	tracer  trace.Tracer
}

// NewStore creates a Store writing through backend.
func NewStore(backend Backend, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	return &Store{
		backend: backend,
		timeout: opts.Timeout,
		loc:     opts.Location,
		tracer:  opts.TracerProvider.Tracer(tracerName),
	}
}

// SetBackend swaps the backend, e.g. after re-authentication.
func (s *Store) SetBackend(b Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = b
}

// Backend returns the current backend.
func (s *Store) Backend() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// Append adds rec as the newest entry of the remote log. A revision
// conflict triggers exactly one re-read and resubmit; a second conflict
// is returned as a Conflict RemoteError. Appending a commit that is already
// in the log succeeds without writing.
func (s *Store) Append(ctx context.Context, rec *commitlog.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "remotelog.Append", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("gittrack.repository", rec.RepoName),
		attribute.String("gittrack.commit", rec.Hash),
	)

	backend := s.Backend()
	if backend == nil {
		err := &RemoteError{Reason: Auth, Op: "append", Err: errors.New("no active session")}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err := s.appendOnce(ctx, backend, rec)
	if errors.Is(err, ErrConflict) {
		span.SetAttributes(attribute.Int("gittrack.retry_count", 1))
		err = s.appendOnce(ctx, backend, rec)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		err = wrapError("append", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Store) appendOnce(ctx context.Context, backend Backend, rec *commitlog.Record) error {
	content, revision, err := s.read(ctx, backend)
	if err != nil {
		return err
	}

	if commitlog.Contains(content, rec.RepoName, rec.Hash) {
		return nil
	}

	updated := commitlog.Prepend(content, commitlog.Render(rec, s.loc))
	if _, err := backend.PutFile(ctx, []byte(updated), revision, CommitMessage(rec.Hash)); err != nil {
		return fmt.Errorf("write %s: %w", backend.Describe(), err)
	}
	return nil
}

// read fetches the log, treating a missing file as an empty log that must
// be created.
func (s *Store) read(ctx context.Context, backend Backend) (string, string, error) {
	f, err := backend.GetFile(ctx)
	if errors.Is(err, ErrNotFound) {
		return commitlog.Header, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", backend.Describe(), err)
	}
	return string(f.Content), f.Revision, nil
}

// Entries reads and parses the current remote log, newest first.
func (s *Store) Entries(ctx context.Context) ([]commitlog.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	backend := s.Backend()
	if backend == nil {
		return nil, &RemoteError{Reason: Auth, Op: "read", Err: errors.New("no active session")}
	}

	content, _, err := s.read(ctx, backend)
	if err != nil {
		return nil, wrapError("read", err)
	}
	return commitlog.Parse(content), nil
}
