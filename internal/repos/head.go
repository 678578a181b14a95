package repos

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
)

// ErrNotRepository is returned for paths that hold no git repository.
var ErrNotRepository = errors.New("not a git repository")

// Snapshot is the cheap HEAD state of a repository.
type Snapshot struct {
	Path string
	// Head is the commit HEAD points at, empty for a repository without commits.
	Head string
	// Branch is the checked-out branch or commitlog.DetachedBranch.
	Branch string
}

// IsRepository reports whether path is the root of a git working tree.
func IsRepository(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

// ReadHead opens the repository at path and resolves HEAD.
func ReadHead(path string) (Snapshot, error) {
	snap := Snapshot{Path: path}

	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return snap, fmt.Errorf("%s: %w", path, ErrNotRepository)
		}
		return snap, fmt.Errorf("failed to open %s: %w", path, err)
	}

	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return snap, fmt.Errorf("failed to read HEAD of %s: %w", path, err)
	}
	if head.Type() == plumbing.SymbolicReference {
		snap.Branch = head.Target().Short()
	} else {
		snap.Branch = commitlog.DetachedBranch
	}

	resolved, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Unborn branch: no commits yet.
	case err != nil:
		return snap, fmt.Errorf("failed to resolve HEAD of %s: %w", path, err)
	default:
		snap.Head = resolved.Hash().String()
	}
	return snap, nil
}

// gitDirs returns the directory holding HEAD and the common directory
// holding refs and packed-refs. They differ for linked worktrees, whose
// .git is a file pointing into the main repository.
func gitDirs(path string) (gitDir, commonDir string, err error) {
	dotGit := filepath.Join(path, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", path, ErrNotRepository)
	}

	gitDir = dotGit
	if !info.IsDir() {
		data, err := os.ReadFile(dotGit)
		if err != nil {
			return "", "", fmt.Errorf("failed to read %s: %w", dotGit, err)
		}
		line := strings.TrimSpace(string(data))
		if !strings.HasPrefix(line, "gitdir:") {
			return "", "", fmt.Errorf("%s: malformed .git file: %w", path, ErrNotRepository)
		}
		gitDir = strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
		if !filepath.IsAbs(gitDir) {
			gitDir = filepath.Join(path, gitDir)
		}
	}
	gitDir = filepath.Clean(gitDir)

	commonDir = gitDir
	if data, err := os.ReadFile(filepath.Join(gitDir, "commondir")); err == nil {
		commonDir = strings.TrimSpace(string(data))
		if !filepath.IsAbs(commonDir) {
			commonDir = filepath.Join(gitDir, commonDir)
		}
		commonDir = filepath.Clean(commonDir)
	}
	return gitDir, commonDir, nil
}

// discover returns root itself when it is a repository, plus every
// immediate child directory that is one.
func discover(root string) []string {
	var found []string
	if IsRepository(root) {
		found = append(found, root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return found
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		child := filepath.Join(root, e.Name())
		if IsRepository(child) {
			found = append(found, child)
		}
	}
	return found
}
