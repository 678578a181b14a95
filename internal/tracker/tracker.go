// Package tracker records, per watched repository, the last commit that was
// successfully mirrored so each commit is logged at most once.
package tracker

import (
	"sort"
	"sync"
)

// Tracker is a mutex guarded table of repository path to last processed
// commit. The zero value is not usable; call New.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]string
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]string)}
}

// Seed starts tracking repoPath with head as the baseline. The baseline is
// never reported as new. An empty head tracks the path with no cursor.
func (t *Tracker) Seed(repoPath, head string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[repoPath] = head
}

// ShouldProcess reports whether commit is new for repoPath: the path is
// tracked, commit is non-empty and differs from the recorded cursor.
func (t *Tracker) ShouldProcess(repoPath, commit string) bool {
	if commit == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.entries[repoPath]
	if !ok {
		return false
	}
	return last != commit
}

// MarkProcessed advances the cursor for repoPath. It returns false and does
// nothing when the path is no longer tracked, so a late append never
// resurrects a closed repository.
func (t *Tracker) MarkProcessed(repoPath, commit string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[repoPath]; !ok {
		return false
	}
	t.entries[repoPath] = commit
	return true
}

// Remove stops tracking repoPath.
func (t *Tracker) Remove(repoPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, repoPath)
}

// Last returns the cursor for repoPath and whether the path is tracked.
func (t *Tracker) Last(repoPath string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.entries[repoPath]
	return last, ok
}

// Paths returns the tracked repository paths in sorted order.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths := make([]string, 0, len(t.entries))
	for p := range t.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of tracked repositories.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
