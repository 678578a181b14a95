package inspector

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// testRepo is a throwaway git repository under t.TempDir.
type testRepo struct {
	t    *testing.T
	path string
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func newTestRepo(t *testing.T, name string) *testRepo {
	t.Helper()
	requireGit(t)

	path := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	r := &testRepo{t: t, path: path}
	r.run("init", "-q")
	r.run("symbolic-ref", "HEAD", "refs/heads/main")
	return r
}

func (r *testRepo) run(args ...string) string {
	r.t.Helper()
	full := append([]string{
		"-c", "user.name=Jane Doe",
		"-c", "user.email=jane@example.com",
		"-c", "commit.gpgsign=false",
	}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = r.path
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_DATE=2024-05-01T08:33:22Z",
		"GIT_COMMITTER_DATE=2024-05-01T08:33:22Z",
		"GIT_CONFIG_NOSYSTEM=1",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// commit writes files and commits them, returning the new hash.
func (r *testRepo) commit(message string, files map[string]string) string {
	r.t.Helper()
	for name, content := range files {
		full := filepath.Join(r.path, name)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			r.t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			r.t.Fatalf("write %s: %v", name, err)
		}
	}
	r.run("add", "-A")
	r.run("commit", "-q", "--allow-empty", "-m", message)
	return r.run("rev-parse", "HEAD")
}
