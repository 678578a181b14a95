// Package inspector resolves commit metadata by querying the local git
// command-line tool.
package inspector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
)

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 10 * time.Second

// showFormat prints hash, subject, author name, author email, strict ISO
// author date and body separated by NUL bytes. The body goes last because
// it may span several lines.
const showFormat = "%H%x00%s%x00%an%x00%ae%x00%aI%x00%b"

// notFoundMarkers are stderr fragments git emits for missing objects or
// repositories. LC_ALL=C keeps them stable.
var notFoundMarkers = []string{
	"unknown revision",
	"bad revision",
	"bad object",
	"invalid object name",
	"ambiguous argument",
	"not a git repository",
	"does not exist",
	"not a valid",
}

// Inspector runs git queries with a bounded timeout per invocation.
type Inspector struct {
	gitPath string
	timeout time.Duration
}

// New creates an Inspector. A zero timeout selects DefaultTimeout.
func New(timeout time.Duration) *Inspector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Inspector{gitPath: "git", timeout: timeout}
}

// Resolve returns the normalized record for commitID in the repository at
// repoPath. Branch lookup is best effort and never fails the call.
func (i *Inspector) Resolve(ctx context.Context, repoPath, commitID string) (*commitlog.Record, error) {
	if err := validateRev(commitID); err != nil {
		return nil, &InspectionError{Reason: NotFound, RepoPath: repoPath, Commit: commitID, Err: err}
	}

	out, err := i.git(ctx, repoPath, commitID, "show", "-s", "--no-color", "--format="+showFormat, commitID, "--")
	if err != nil {
		return nil, err
	}
	rec, err := parseShowOutput(out)
	if err != nil {
		return nil, &InspectionError{Reason: CommandFailed, RepoPath: repoPath, Commit: commitID, Err: err}
	}

	files, err := i.changedFiles(ctx, repoPath, rec.Hash)
	if err != nil {
		return nil, err
	}

	rec.RepoPath = repoPath
	rec.RepoName = filepath.Base(filepath.Clean(repoPath))
	rec.Branch = i.CurrentBranch(ctx, repoPath)
	rec.ChangedFiles = files

	return rec, nil
}

// CurrentBranch returns the checked-out branch name, or
// commitlog.DetachedBranch when HEAD is detached or cannot be read.
func (i *Inspector) CurrentBranch(ctx context.Context, repoPath string) string {
	out, err := i.git(ctx, repoPath, "HEAD", "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		return commitlog.DetachedBranch
	}
	branch := strings.TrimSpace(string(out))
	if branch == "" {
		return commitlog.DetachedBranch
	}
	return branch
}

// Between lists the commits reachable from to but not from from, oldest
// first, keeping at most the newest limit commits. It returns ErrNotAncestor
// (wrapped) when from is not an ancestor of to.
func (i *Inspector) Between(ctx context.Context, repoPath, from, to string, limit int) ([]string, error) {
	for _, rev := range []string{from, to} {
		if err := validateRev(rev); err != nil {
			return nil, &InspectionError{Reason: NotFound, RepoPath: repoPath, Commit: rev, Err: err}
		}
	}
	if limit <= 0 {
		limit = 1
	}

	if _, err := i.git(ctx, repoPath, to, "merge-base", "--is-ancestor", from, to); err != nil {
		var ie *InspectionError
		if errors.As(err, &ie) && ie.Reason == CommandFailed && exitCode(ie.Err) == 1 {
			return nil, fmt.Errorf("%s..%s: %w", from, to, ErrNotAncestor)
		}
		return nil, err
	}

	out, err := i.git(ctx, repoPath, to, "rev-list", "--reverse", "--max-count="+strconv.Itoa(limit), from+".."+to, "--")
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(out)), nil
}

// changedFiles lists paths touched by hash relative to its parents. Root
// commits are diffed against the empty tree; merges against every parent.
func (i *Inspector) changedFiles(ctx context.Context, repoPath, hash string) ([]string, error) {
	out, err := i.git(ctx, repoPath, hash, "diff-tree", "--no-commit-id", "--name-only", "-r", "-z", "--root", "-m", hash, "--")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var files []string
	for _, p := range splitNUL(out) {
		if seen[p] {
			continue
		}
		seen[p] = true
		files = append(files, p)
	}
	return files, nil
}

// git runs one git command in repoPath and classifies failures.
func (i *Inspector) git(ctx context.Context, repoPath, commit string, args ...string) ([]byte, error) {
	if _, err := os.Stat(repoPath); err != nil {
		return nil, &InspectionError{Reason: NotFound, RepoPath: repoPath, Commit: commit, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	full := append([]string{"-c", "core.quotepath=off", "-c", "log.showSignature=false"}, args...)
	cmd := exec.CommandContext(ctx, i.gitPath, full...)
	cmd.Dir = repoPath
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_TERMINAL_PROMPT=0", "GIT_OPTIONAL_LOCKS=0")

	output, err := cmd.Output()
	if err == nil {
		return output, nil
	}

	if ctx.Err() != nil {
		return nil, &InspectionError{
			Reason:   CommandFailed,
			RepoPath: repoPath,
			Commit:   commit,
			Err:      fmt.Errorf("git %s: %w", args[0], ctx.Err()),
		}
	}

	var stderr []byte
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stderr = exitErr.Stderr
	}

	reason := CommandFailed
	if isNotFound(stderr) {
		reason = NotFound
	}
	return nil, &InspectionError{
		Reason:   reason,
		RepoPath: repoPath,
		Commit:   commit,
		Err:      fmt.Errorf("git %s failed: %w (stderr: %s)", args[0], err, strings.TrimSpace(string(stderr))),
	}
}

// parseShowOutput parses the NUL separated fields produced by showFormat.
func parseShowOutput(out []byte) (*commitlog.Record, error) {
	fields := strings.SplitN(string(out), "\x00", 6)
	if len(fields) < 5 {
		return nil, fmt.Errorf("unexpected git show output: %d fields", len(fields))
	}

	hash := strings.TrimSpace(fields[0])
	if hash == "" {
		return nil, fmt.Errorf("unexpected git show output: empty hash")
	}

	when, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[4]))
	if err != nil {
		return nil, fmt.Errorf("parse author date %q: %w", fields[4], err)
	}

	rec := &commitlog.Record{
		Hash:        hash,
		Message:     fields[1],
		AuthorName:  fields[2],
		AuthorEmail: fields[3],
		AuthorTime:  when,
	}
	if len(fields) == 6 {
		rec.FullMessage = strings.TrimRight(fields[5], "\n")
	}
	return rec, nil
}

func splitNUL(out []byte) []string {
	var parts []string
	for _, p := range bytes.Split(out, []byte{0}) {
		if len(p) > 0 {
			parts = append(parts, string(p))
		}
	}
	return parts
}

func isNotFound(stderr []byte) bool {
	msg := strings.ToLower(string(stderr))
	for _, m := range notFoundMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// validateRev rejects revisions git would parse as options.
func validateRev(rev string) error {
	if rev == "" {
		return fmt.Errorf("empty revision")
	}
	if strings.HasPrefix(rev, "-") {
		return fmt.Errorf("invalid revision %q", rev)
	}
	return nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
