package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
	"github.com/blackwell-systems/gittrack/internal/inspector"
	"github.com/blackwell-systems/gittrack/internal/logging"
	"github.com/blackwell-systems/gittrack/internal/repos"
	"github.com/blackwell-systems/gittrack/internal/tracker"
)

// ErrUnknownRepository is returned by Resync for paths that are not watched.
var ErrUnknownRepository = errors.New("repository is not watched")

// Source delivers repository lifecycle notifications. *repos.Source
// implements it.
type Source interface {
	List() []string
	Head(path string) (repos.Snapshot, error)
	OnOpened(func(repos.Snapshot))
	OnClosed(func(string))
	OnStateChanged(func(repos.Snapshot))
	Start() error
	Stop()
}

// Inspector resolves commits. *inspector.Inspector implements it.
type Inspector interface {
	Resolve(ctx context.Context, repoPath, commitID string) (*commitlog.Record, error)
	Between(ctx context.Context, repoPath, from, to string, limit int) ([]string, error)
}

// LogStore appends records to the shared log. *remotelog.Store implements it.
type LogStore interface {
	Append(ctx context.Context, rec *commitlog.Record) error
}

// Options configures a Coordinator.
type Options struct {
	Source    Source
	Inspector Inspector
	Log       LogStore
	// Tracker defaults to a fresh tracker.
	Tracker  *tracker.Tracker
	Reporter Reporter
	Logger   *log.Logger
	// BackfillLimit caps how many commits one HEAD move logs. Values
	// below 2 log only the new HEAD.
	BackfillLimit int
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventChanged
	eventClosed
	eventResync
)

type event struct {
	kind    eventKind
	snap    repos.Snapshot
	path    string
	trigger string
}

type worker struct {
	path string
	kick chan struct{}
	quit chan struct{}
	done chan struct{}
	// prev is the done channel of a closed worker for the same path that
	// may still be finishing an append.
	prev <-chan struct{}
	// branch is the branch the cursor was last advanced on. Only the
	// worker goroutine touches it after start.
	branch string
	status RepoStatus
}

// Coordinator turns repository state changes into log appends.
type Coordinator struct {
	source    Source
	inspector Inspector
	log       LogStore
	tracker   *tracker.Tracker
	reporter  Reporter
	logger    *log.Logger
	backfill  int

	events chan event

	mu      sync.Mutex
	workers map[string]*worker
	closing map[string]<-chan struct{}
	started bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	dispatch sync.WaitGroup
	wg       sync.WaitGroup
}

// New creates a Coordinator. Call Start to begin watching.
func New(opts Options) *Coordinator {
	t := opts.Tracker
	if t == nil {
		t = tracker.New()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = Reporters{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		source:    opts.Source,
		inspector: opts.Inspector,
		log:       opts.Log,
		tracker:   t,
		reporter:  reporter,
		logger:    logger.WithPrefix("watcher"),
		backfill:  opts.BackfillLimit,
		events:    make(chan event, 256),
		workers:   make(map[string]*worker),
		closing:   make(map[string]<-chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
	}
}

// Start registers with the source and activates every open repository.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	c.source.OnOpened(func(s repos.Snapshot) { c.enqueue(event{kind: eventOpened, snap: s}) })
	c.source.OnClosed(func(p string) { c.enqueue(event{kind: eventClosed, path: p}) })
	c.source.OnStateChanged(func(s repos.Snapshot) { c.enqueue(event{kind: eventChanged, snap: s}) })

	c.dispatch.Add(1)
	go c.run()

	if err := c.source.Start(); err != nil {
		return fmt.Errorf("failed to start repository source: %w", err)
	}

	// Repositories the source already had open before the callbacks were
	// registered. Duplicates of callback deliveries are ignored.
	for _, p := range c.source.List() {
		snap, err := c.source.Head(p)
		if err != nil {
			c.logger.Warn("cannot read HEAD", "repo", p, "err", err)
			continue
		}
		c.enqueue(event{kind: eventOpened, snap: snap})
	}
	return nil
}

// Stop tears down every watch state. In-flight appends may finish until
// ctx expires, after which they are cancelled.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.source.Stop()
		close(c.stopCh)
	})

	done := make(chan struct{})
	go func() {
		c.dispatch.Wait()
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// Resync re-evaluates path, retrying commits that failed to log.
func (c *Coordinator) Resync(path, trigger string) error {
	c.mu.Lock()
	_, ok := c.workers[path]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrUnknownRepository)
	}
	c.enqueue(event{kind: eventResync, path: path, trigger: trigger})
	return nil
}

// ResyncAll re-evaluates every watched repository and returns how many
// were queued.
func (c *Coordinator) ResyncAll(trigger string) int {
	c.mu.Lock()
	n := len(c.workers)
	c.mu.Unlock()
	c.enqueue(event{kind: eventResync, trigger: trigger})
	return n
}

// Status returns the watched repositories sorted by path.
func (c *Coordinator) Status() []RepoStatus {
	c.mu.Lock()
	out := make([]RepoStatus, 0, len(c.workers))
	for _, w := range c.workers {
		out = append(out, w.status)
	}
	c.mu.Unlock()

	for i := range out {
		if last, ok := c.tracker.Last(out[i].Path); ok {
			out[i].LastProcessed = last
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Tracker exposes the deduplication tracker.
func (c *Coordinator) Tracker() *tracker.Tracker {
	return c.tracker
}

func (c *Coordinator) enqueue(ev event) {
	select {
	case c.events <- ev:
	case <-c.stopCh:
	}
}

// run is the single dispatcher. It owns worker creation and removal.
func (c *Coordinator) run() {
	defer c.dispatch.Done()

	for {
		select {
		case <-c.stopCh:
			c.mu.Lock()
			for p, w := range c.workers {
				close(w.quit)
				delete(c.workers, p)
			}
			c.mu.Unlock()
			return

		case ev := <-c.events:
			switch ev.kind {
			case eventOpened:
				c.handleOpened(ev.snap)
			case eventChanged:
				c.handleChanged(ev.snap)
			case eventClosed:
				c.handleClosed(ev.path)
			case eventResync:
				c.handleResync(ev.path, ev.trigger)
			}
		}
	}
}

func (c *Coordinator) handleOpened(snap repos.Snapshot) {
	c.mu.Lock()
	if _, ok := c.workers[snap.Path]; ok {
		c.mu.Unlock()
		return
	}

	w := &worker{
		path:   snap.Path,
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		prev:   c.closing[snap.Path],
		branch: snap.Branch,
		status: RepoStatus{
			Path:     snap.Path,
			Name:     filepath.Base(snap.Path),
			State:    StateDiscovered,
			Branch:   snap.Branch,
			Head:     snap.Head,
			OpenedAt: time.Now(),
		},
	}
	c.workers[snap.Path] = w
	c.tracker.Seed(snap.Path, snap.Head)
	w.status.State = StateListening
	watched := len(c.workers)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.work(w)

	c.report(Report{
		Kind:     ReportOpened,
		RepoPath: snap.Path,
		RepoName: filepath.Base(snap.Path),
		Commit:   snap.Head,
		Branch:   snap.Branch,
		Watched:  watched,
	})
}

func (c *Coordinator) handleChanged(snap repos.Snapshot) {
	c.mu.Lock()
	w, ok := c.workers[snap.Path]
	c.mu.Unlock()
	if ok {
		w.notify()
	}
}

func (c *Coordinator) handleClosed(path string) {
	c.mu.Lock()
	c.tracker.Remove(path)
	w, ok := c.workers[path]
	if ok {
		w.status.State = StateClosed
		close(w.quit)
		delete(c.workers, path)
		c.closing[path] = w.done
	}
	watched := len(c.workers)
	c.mu.Unlock()

	if ok {
		c.report(Report{Kind: ReportClosed, RepoPath: path, RepoName: filepath.Base(path), Watched: watched})
	}
}

func (c *Coordinator) handleResync(path, trigger string) {
	c.mu.Lock()
	var targets []*worker
	if path == "" {
		for _, w := range c.workers {
			targets = append(targets, w)
		}
	} else if w, ok := c.workers[path]; ok {
		targets = append(targets, w)
	}
	c.mu.Unlock()

	for _, w := range targets {
		w.notify()
	}
	c.report(Report{Kind: ReportResync, RepoPath: path, Trigger: trigger})
}

// notify queues an evaluation. Pending notifications coalesce since the
// evaluation re-reads HEAD.
func (w *worker) notify() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (c *Coordinator) work(w *worker) {
	defer c.wg.Done()
	defer c.retire(w)

	// A reopened path waits for the previous worker's in-flight append.
	if w.prev != nil {
		select {
		case <-w.prev:
		case <-w.quit:
			return
		}
	}

	for {
		select {
		case <-w.quit:
			return
		case <-w.kick:
			select {
			case <-w.quit:
				return
			default:
			}
			c.evaluate(w)
		}
	}
}

// retire marks w finished. Its successor, if any, is released only once
// every earlier worker for the path is gone.
func (c *Coordinator) retire(w *worker) {
	if w.prev != nil {
		<-w.prev
	}
	close(w.done)

	c.mu.Lock()
	if c.closing[w.path] == w.done {
		delete(c.closing, w.path)
	}
	c.mu.Unlock()
}

// evaluate logs every new commit between the cursor and HEAD, oldest
// first, stopping at the first failure.
func (c *Coordinator) evaluate(w *worker) {
	c.setState(w, StateEvaluating)
	defer c.setState(w, StateListening)

	snap, err := c.source.Head(w.path)
	if err != nil {
		c.logger.Debug("cannot read HEAD", "repo", w.path, "err", err)
		return
	}

	c.mu.Lock()
	w.status.Head = snap.Head
	w.status.Branch = snap.Branch
	c.mu.Unlock()

	if !c.tracker.ShouldProcess(w.path, snap.Head) {
		w.branch = snap.Branch
		return
	}

	// A checkout onto another branch logs only the new HEAD, not the
	// commits that branch already had.
	commits := []string{snap.Head}
	if snap.Branch == w.branch {
		last, _ := c.tracker.Last(w.path)
		commits = c.pending(w.path, last, snap.Head)
	}
	for _, hash := range commits {
		if !c.process(w, hash) {
			return
		}
	}
	w.branch = snap.Branch
}

// pending lists the commits to log for a HEAD move from last to head.
func (c *Coordinator) pending(path, last, head string) []string {
	if last == "" || c.backfill < 2 {
		return []string{head}
	}

	commits, err := c.inspector.Between(c.ctx, path, last, head, c.backfill)
	if err != nil {
		if !errors.Is(err, inspector.ErrNotAncestor) {
			c.logger.Debug("cannot list new commits", "repo", path, "err", err)
		}
		return []string{head}
	}
	if len(commits) == 0 || commits[len(commits)-1] != head {
		return []string{head}
	}
	return commits
}

// process mirrors one commit and reports whether the batch may continue.
func (c *Coordinator) process(w *worker, hash string) bool {
	start := time.Now()
	name := filepath.Base(w.path)

	rec, err := c.inspector.Resolve(c.ctx, w.path, hash)
	if err != nil {
		c.fail(w, Report{RepoPath: w.path, RepoName: name, Commit: hash, Stage: StageInspect}, err)
		return false
	}

	if err := c.log.Append(c.ctx, rec); err != nil {
		c.fail(w, Report{
			RepoPath: w.path,
			RepoName: rec.RepoName,
			Commit:   hash,
			Branch:   rec.Branch,
			Message:  rec.Message,
			Stage:    StageAppend,
		}, err)
		return false
	}

	// A close that raced the append keeps the entry but ends the batch.
	// A closed worker must not advance the cursor of a reopened path.
	c.mu.Lock()
	marked := c.workers[w.path] == w && c.tracker.MarkProcessed(w.path, hash)
	w.status.Logged++
	w.status.LastError = ""
	c.mu.Unlock()

	c.report(Report{
		Kind:     ReportLogged,
		RepoPath: w.path,
		RepoName: rec.RepoName,
		Commit:   hash,
		Branch:   rec.Branch,
		Message:  rec.Message,
		Duration: time.Since(start),
	})
	return marked
}

func (c *Coordinator) fail(w *worker, r Report, err error) {
	r.Kind = ReportFailed
	r.Reason = FailureReason(err)
	r.Error = err.Error()

	c.mu.Lock()
	w.status.Failed++
	w.status.LastError = r.Error
	w.status.LastErrorAt = time.Now()
	c.mu.Unlock()

	c.report(r)
}

func (c *Coordinator) setState(w *worker, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.status.State != StateClosed {
		w.status.State = s
	}
}

func (c *Coordinator) report(r Report) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	c.reporter.Report(r)
}
