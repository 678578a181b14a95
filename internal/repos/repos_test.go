package repos

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
)

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

func TestReadHead_EmptyRepository(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	snap, err := ReadHead(dir)
	if err != nil {
		t.Fatalf("ReadHead() error: %v", err)
	}
	if snap.Head != "" {
		t.Errorf("Head = %q, want empty", snap.Head)
	}
	if snap.Branch != "master" {
		t.Errorf("Branch = %q, want master", snap.Branch)
	}
}

func TestReadHead_AfterCommit(t *testing.T) {
	dir := t.TempDir()
	repo := initRepo(t, dir)
	hash := commitFile(t, repo, dir, "a.txt", "a")

	snap, err := ReadHead(dir)
	if err != nil {
		t.Fatalf("ReadHead() error: %v", err)
	}
	if snap.Head != hash {
		t.Errorf("Head = %q, want %q", snap.Head, hash)
	}
	if snap.Path != dir {
		t.Errorf("Path = %q, want %q", snap.Path, dir)
	}
}

func TestReadHead_Detached(t *testing.T) {
	dir := t.TempDir()
	repo := initRepo(t, dir)
	hash := commitFile(t, repo, dir, "a.txt", "a")

	ref := plumbing.NewHashReference(plumbing.HEAD, plumbing.NewHash(hash))
	if err := repo.Storer.SetReference(ref); err != nil {
		t.Fatalf("failed to detach HEAD: %v", err)
	}

	snap, err := ReadHead(dir)
	if err != nil {
		t.Fatalf("ReadHead() error: %v", err)
	}
	if snap.Branch != commitlog.DetachedBranch {
		t.Errorf("Branch = %q, want %q", snap.Branch, commitlog.DetachedBranch)
	}
	if snap.Head != hash {
		t.Errorf("Head = %q, want %q", snap.Head, hash)
	}
}

func TestReadHead_NotRepository(t *testing.T) {
	_, err := ReadHead(t.TempDir())
	if !errors.Is(err, ErrNotRepository) {
		t.Errorf("ReadHead() error = %v, want ErrNotRepository", err)
	}
}

func TestGitDirs(t *testing.T) {
	main := t.TempDir()
	initRepo(t, main)

	gitDir, commonDir, err := gitDirs(main)
	if err != nil {
		t.Fatalf("gitDirs() error: %v", err)
	}
	want := filepath.Join(main, ".git")
	if gitDir != want || commonDir != want {
		t.Errorf("gitDirs() = %q, %q; want %q for both", gitDir, commonDir, want)
	}
}

func TestGitDirs_LinkedWorktree(t *testing.T) {
	main := t.TempDir()
	initRepo(t, main)

	wtGitDir := filepath.Join(main, ".git", "worktrees", "feature")
	if err := os.MkdirAll(wtGitDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wtGitDir, "commondir"), []byte("../..\n"), 0644); err != nil {
		t.Fatal(err)
	}

	wt := t.TempDir()
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: "+wtGitDir+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	gitDir, commonDir, err := gitDirs(wt)
	if err != nil {
		t.Fatalf("gitDirs() error: %v", err)
	}
	if gitDir != wtGitDir {
		t.Errorf("gitDir = %q, want %q", gitDir, wtGitDir)
	}
	if commonDir != filepath.Join(main, ".git") {
		t.Errorf("commonDir = %q, want %q", commonDir, filepath.Join(main, ".git"))
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"api", "web", ".hidden"} {
		initRepo(t, filepath.Join(root, name))
	}
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0755); err != nil {
		t.Fatal(err)
	}

	found := discover(root)
	if len(found) != 2 {
		t.Fatalf("discover() = %v, want api and web", found)
	}
	for _, p := range found {
		base := filepath.Base(p)
		if base != "api" && base != "web" {
			t.Errorf("unexpected repository %s", p)
		}
	}
}

type recorder struct {
	opened  chan Snapshot
	changed chan Snapshot
	closed  chan string
}

func watch(t *testing.T, opts Options) (*Source, *recorder) {
	t.Helper()
	opts.Debounce = 20 * time.Millisecond
	if opts.RescanInterval == 0 {
		opts.RescanInterval = 100 * time.Millisecond
	}

	src, err := NewSource(opts)
	if err != nil {
		t.Fatalf("NewSource() error: %v", err)
	}
	rec := &recorder{
		opened:  make(chan Snapshot, 64),
		changed: make(chan Snapshot, 64),
		closed:  make(chan string, 64),
	}
	src.OnOpened(func(s Snapshot) { rec.opened <- s })
	src.OnStateChanged(func(s Snapshot) { rec.changed <- s })
	src.OnClosed(func(p string) { rec.closed <- p })

	if err := src.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(src.Stop)
	return src, rec
}

func TestSource_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	repo := initRepo(t, dir)
	first := commitFile(t, repo, dir, "a.txt", "one")

	src, rec := watch(t, Options{Repositories: []string{dir}})

	select {
	case snap := <-rec.opened:
		if snap.Head != first {
			t.Errorf("opened Head = %q, want %q", snap.Head, first)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for opened")
	}

	if paths := src.List(); len(paths) != 1 || paths[0] != dir {
		t.Errorf("List() = %v", paths)
	}

	second := commitFile(t, repo, dir, "a.txt", "two")
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case snap := <-rec.changed:
			done = snap.Head == second
		case <-deadline:
			t.Fatal("timed out waiting for state change")
		}
	}

	if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-rec.closed:
		if p != dir {
			t.Errorf("closed %q, want %q", p, dir)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for closed")
	}
}

func TestSource_RootDiscovery(t *testing.T) {
	root := t.TempDir()
	_, rec := watch(t, Options{Roots: []string{root}})

	dir := filepath.Join(root, "api")
	repo := initRepo(t, dir)
	commitFile(t, repo, dir, "a.txt", "a")

	select {
	case snap := <-rec.opened:
		if snap.Path != dir {
			t.Errorf("opened %q, want %q", snap.Path, dir)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for discovered repository")
	}
}

func TestSource_AddRemove(t *testing.T) {
	src, rec := watch(t, Options{})

	if err := src.Add(t.TempDir()); !errors.Is(err, ErrNotRepository) {
		t.Errorf("Add(non-repo) error = %v, want ErrNotRepository", err)
	}

	dir := t.TempDir()
	initRepo(t, dir)
	if err := src.Add(dir); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	select {
	case <-rec.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for opened")
	}

	src.Remove(dir)
	select {
	case p := <-rec.closed:
		if p != dir {
			t.Errorf("closed %q", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for closed")
	}
	if len(src.List()) != 0 {
		t.Errorf("List() = %v, want empty", src.List())
	}
}

func TestSource_StopWithoutStart(t *testing.T) {
	src, err := NewSource(Options{})
	if err != nil {
		t.Fatalf("NewSource() error: %v", err)
	}
	src.Stop()
}
