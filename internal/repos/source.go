// Package repos discovers local git repositories and reports their
// lifecycle: opened, closed and HEAD state changes. Changes are detected
// with fsnotify watches on each repository's HEAD, packed-refs and
// refs/heads, plus a periodic rescan of configured roots.
package repos

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/gittrack/internal/logging"
)

// Options configures a Source.
type Options struct {
	// Repositories are watched explicitly. Missing paths are picked up
	// by a later rescan once they exist.
	Repositories []string
	// Roots are scanned for repositories one level deep.
	Roots          []string
	Debounce       time.Duration
	RescanInterval time.Duration
	Logger         *log.Logger
}

type watchedRepo struct {
	path      string
	gitDir    string
	commonDir string
	dirs      []string
	ready     bool
	dirty     bool
	timer     *time.Timer
}

// Source watches repositories and invokes the registered callbacks.
// Callbacks run on internal goroutines and must not block for long.
type Source struct {
	opts    Options
	logger  *log.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	repos    map[string]*watchedRepo
	dirIndex map[string][]string // watched dir -> repository paths
	rootDirs map[string]bool
	manual   map[string]bool
	rescanT  *time.Timer

	onOpened  func(Snapshot)
	onClosed  func(string)
	onChanged func(Snapshot)

	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewSource creates a Source. Call the On* methods before Start.
func NewSource(opts Options) (*Source, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 150 * time.Millisecond
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Source{
		opts:      opts,
		logger:    logger.WithPrefix("repos"),
		watcher:   w,
		repos:     make(map[string]*watchedRepo),
		dirIndex:  make(map[string][]string),
		rootDirs:  make(map[string]bool),
		manual:    make(map[string]bool),
		onOpened:  func(Snapshot) {},
		onClosed:  func(string) {},
		onChanged: func(Snapshot) {},
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// OnOpened registers the callback for newly discovered repositories.
func (s *Source) OnOpened(fn func(Snapshot)) { s.onOpened = fn }

// OnClosed registers the callback for repositories that went away.
func (s *Source) OnClosed(fn func(string)) { s.onClosed = fn }

// OnStateChanged registers the callback for HEAD or branch ref changes.
func (s *Source) OnStateChanged(fn func(Snapshot)) { s.onChanged = fn }

// Start opens the configured repositories and begins watching.
func (s *Source) Start() error {
	for _, root := range s.opts.Roots {
		if err := s.watcher.Add(root); err != nil {
			s.logger.Warn("cannot watch root", "root", root, "err", err)
			continue
		}
		s.mu.Lock()
		s.rootDirs[root] = true
		s.mu.Unlock()
	}

	s.rescan()

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go s.run()
	return nil
}

// Stop ends watching. No close callbacks are emitted.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.watcher.Close()

		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.doneCh
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		for _, r := range s.repos {
			if r.timer != nil {
				r.timer.Stop()
			}
		}
		if s.rescanT != nil {
			s.rescanT.Stop()
		}
	})
}

// List returns the open repository paths in sorted order.
func (s *Source) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.repos))
	for p := range s.repos {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Head reads the current HEAD snapshot of path.
func (s *Source) Head(path string) (Snapshot, error) {
	return ReadHead(path)
}

// Add opens path at runtime and keeps it open across rescans.
func (s *Source) Add(path string) error {
	if !IsRepository(path) {
		return fmt.Errorf("%s: %w", path, ErrNotRepository)
	}
	s.mu.Lock()
	s.manual[path] = true
	s.mu.Unlock()
	return s.open(path)
}

// Remove closes path and forgets a runtime Add.
func (s *Source) Remove(path string) {
	s.mu.Lock()
	delete(s.manual, path)
	s.mu.Unlock()
	s.close(path)
}

func (s *Source) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.opts.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("fsnotify error", "err", err)

		case <-ticker.C:
			s.rescan()
		}
	}
}

func (s *Source) handleEvent(event fsnotify.Event) {
	dir := filepath.Dir(event.Name)
	base := filepath.Base(event.Name)

	s.mu.Lock()
	isRoot := s.rootDirs[dir]
	paths := append([]string(nil), s.dirIndex[dir]...)
	s.mu.Unlock()

	if isRoot && event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		s.scheduleRescan()
	}
	if len(paths) == 0 || strings.HasSuffix(base, ".lock") {
		return
	}

	// New branch namespaces such as refs/heads/feature/ need their own watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			s.watchTree(event.Name, paths)
		}
	}

	for _, p := range paths {
		if s.relevant(p, dir, base) {
			s.schedule(p)
		}
	}
}

// relevant reports whether a change to dir/base can move HEAD of repo p.
func (s *Source) relevant(p, dir, base string) bool {
	s.mu.Lock()
	r, ok := s.repos[p]
	s.mu.Unlock()
	if !ok {
		return false
	}

	switch {
	case dir == r.gitDir && base == "HEAD":
		return true
	case dir == r.commonDir && base == "packed-refs":
		return true
	}
	heads := filepath.Join(r.commonDir, "refs", "heads")
	return dir == heads || strings.HasPrefix(dir, heads+string(filepath.Separator))
}

// schedule debounces a state change notification for p.
func (s *Source) schedule(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.repos[p]
	if !ok {
		return
	}
	if !r.ready {
		r.dirty = true
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(s.opts.Debounce, func() { s.fireChanged(p) })
}

func (s *Source) fireChanged(p string) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	snap, err := ReadHead(p)
	if err != nil {
		if !IsRepository(p) {
			s.close(p)
			return
		}
		s.logger.Debug("cannot read HEAD", "repo", p, "err", err)
		return
	}

	s.mu.Lock()
	_, open := s.repos[p]
	s.mu.Unlock()
	if open {
		s.onChanged(snap)
	}
}

func (s *Source) scheduleRescan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rescanT != nil {
		s.rescanT.Stop()
	}
	s.rescanT = time.AfterFunc(2*s.opts.Debounce, s.rescan)
}

// rescan reconciles open repositories with the configured set.
func (s *Source) rescan() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	want := make(map[string]bool)
	for _, p := range s.opts.Repositories {
		if IsRepository(p) {
			want[p] = true
		}
	}
	for _, root := range s.opts.Roots {
		for _, p := range discover(root) {
			want[p] = true
		}
	}

	s.mu.Lock()
	for p := range s.manual {
		if IsRepository(p) {
			want[p] = true
		}
	}
	var current []string
	for p := range s.repos {
		current = append(current, p)
	}
	s.mu.Unlock()

	for _, p := range current {
		if !want[p] {
			s.close(p)
		}
	}

	var added []string
	for p := range want {
		added = append(added, p)
	}
	sort.Strings(added)
	for _, p := range added {
		if err := s.open(p); err != nil {
			s.logger.Warn("cannot watch repository", "repo", p, "err", err)
		}
	}
}

// open starts watching p and emits the opened callback. Opening an
// already open repository is a no-op.
func (s *Source) open(p string) error {
	s.mu.Lock()
	if _, ok := s.repos[p]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	gitDir, commonDir, err := gitDirs(p)
	if err != nil {
		return err
	}

	dirs := []string{gitDir}
	if commonDir != gitDir {
		dirs = append(dirs, commonDir)
	}
	dirs = append(dirs, walkDirs(filepath.Join(commonDir, "refs", "heads"))...)

	s.mu.Lock()
	if _, ok := s.repos[p]; ok {
		s.mu.Unlock()
		return nil
	}
	r := &watchedRepo{path: p, gitDir: gitDir, commonDir: commonDir}
	s.repos[p] = r
	for _, d := range dirs {
		s.indexDir(d, p)
	}
	r.dirs = dirs
	s.mu.Unlock()

	snap, err := ReadHead(p)
	if err != nil {
		s.logger.Warn("cannot read HEAD", "repo", p, "err", err)
		snap = Snapshot{Path: p}
	}
	s.logger.Debug("repository opened", "repo", p, "head", snap.Head)
	s.onOpened(snap)

	s.mu.Lock()
	r.ready = true
	dirty := r.dirty
	s.mu.Unlock()
	if dirty {
		s.schedule(p)
	}
	return nil
}

// close stops watching p and emits the closed callback.
func (s *Source) close(p string) {
	s.mu.Lock()
	r, ok := s.repos[p]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.repos, p)
	if r.timer != nil {
		r.timer.Stop()
	}
	for _, d := range r.dirs {
		s.unindexDir(d, p)
	}
	s.mu.Unlock()

	s.logger.Debug("repository closed", "repo", p)
	s.onClosed(p)
}

// watchTree adds dir and its subdirectories for the given repositories.
func (s *Source) watchTree(dir string, paths []string) {
	dirs := walkDirs(dir)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		r, ok := s.repos[p]
		if !ok {
			continue
		}
		for _, d := range dirs {
			s.indexDir(d, p)
			r.dirs = append(r.dirs, d)
		}
	}
}

// indexDir must be called with s.mu held.
func (s *Source) indexDir(dir, p string) {
	for _, existing := range s.dirIndex[dir] {
		if existing == p {
			return
		}
	}
	if len(s.dirIndex[dir]) == 0 {
		if err := s.watcher.Add(dir); err != nil {
			s.logger.Debug("cannot watch directory", "dir", dir, "err", err)
			return
		}
	}
	s.dirIndex[dir] = append(s.dirIndex[dir], p)
}

// unindexDir must be called with s.mu held.
func (s *Source) unindexDir(dir, p string) {
	var remaining []string
	for _, existing := range s.dirIndex[dir] {
		if existing != p {
			remaining = append(remaining, existing)
		}
	}
	if len(remaining) == 0 {
		delete(s.dirIndex, dir)
		_ = s.watcher.Remove(dir)
		return
	}
	s.dirIndex[dir] = remaining
}

func walkDirs(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}
