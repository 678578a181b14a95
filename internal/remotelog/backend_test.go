package remotelog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBackendCompliance(t *testing.T) {
	cases := []struct {
		name    string
		factory func(t *testing.T) Backend
	}{
		{
			name: "memory",
			factory: func(t *testing.T) Backend {
				return NewMemoryBackend()
			},
		},
		{
			name: "redis",
			factory: func(t *testing.T) Backend {
				t.Helper()
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = client.Close() })
				return NewRedisBackend(client, "test")
			},
		},
		{
			name: "github",
			factory: func(t *testing.T) Backend {
				t.Helper()
				_, srv := newFakeGitHub(t)
				client, err := NewGitHubClient("good-token", srv.URL)
				if err != nil {
					t.Fatalf("NewGitHubClient: %v", err)
				}
				return NewGitHubBackend(client, GitHubOptions{
					Owner: "jane", Repository: "git-track", Branch: "main", Path: "commit-details.md",
				})
			},
		},
		{
			name: "s3",
			factory: func(t *testing.T) Backend {
				return NewS3Backend(newFakeS3(), "logs", "commit-details.md")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runBackendContract(context.Background(), t, tc.factory(t))
		})
	}
}

func runBackendContract(ctx context.Context, t *testing.T, b Backend) {
	t.Helper()

	if _, err := b.GetFile(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetFile on empty backend: got %v, want ErrNotFound", err)
	}

	rev1, err := b.PutFile(ctx, []byte("one"), "", "create")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f, err := b.GetFile(ctx)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(f.Content) != "one" {
		t.Errorf("content = %q, want one", f.Content)
	}
	if f.Revision != rev1 {
		t.Errorf("revision = %q, want %q", f.Revision, rev1)
	}

	if _, err := b.PutFile(ctx, []byte("again"), "", "create"); !errors.Is(err, ErrConflict) {
		t.Errorf("create over existing file: got %v, want ErrConflict", err)
	}

	rev2, err := b.PutFile(ctx, []byte("two"), rev1, "update")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if rev2 == rev1 {
		t.Error("revision should change after a write")
	}

	if _, err := b.PutFile(ctx, []byte("stale"), rev1, "update"); !errors.Is(err, ErrConflict) {
		t.Errorf("stale update: got %v, want ErrConflict", err)
	}

	f, err = b.GetFile(ctx)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(f.Content) != "two" {
		t.Errorf("content after stale write = %q, want two", f.Content)
	}

	if b.Describe() == "" {
		t.Error("Describe() should not be empty")
	}
}

func TestGitHubBackend_LargeFile(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	fake.inlineLimit = 8
	fake.files["commit-details.md"] = []byte(strings.Repeat("x", 64))

	client, err := NewGitHubClient("good-token", srv.URL)
	if err != nil {
		t.Fatalf("NewGitHubClient: %v", err)
	}
	b := NewGitHubBackend(client, GitHubOptions{Owner: "jane", Repository: "git-track", Branch: "main", Path: "commit-details.md"})

	f, err := b.GetFile(context.Background())
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if len(f.Content) != 64 {
		t.Errorf("len(content) = %d, want 64", len(f.Content))
	}
	if f.Revision != blobSHA(fake.files["commit-details.md"]) {
		t.Errorf("revision = %q", f.Revision)
	}
}

func TestGitHubBackend_Unauthorized(t *testing.T) {
	_, srv := newFakeGitHub(t)
	client, err := NewGitHubClient("bad-token", srv.URL)
	if err != nil {
		t.Fatalf("NewGitHubClient: %v", err)
	}
	b := NewGitHubBackend(client, GitHubOptions{Owner: "jane", Repository: "git-track", Branch: "main", Path: "commit-details.md"})

	if _, err := b.GetFile(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("GetFile: got %v, want ErrUnauthorized", err)
	}
}

func TestGitHubBackend_EnsureRepository(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	client, err := NewGitHubClient("good-token", srv.URL)
	if err != nil {
		t.Fatalf("NewGitHubClient: %v", err)
	}

	existing := NewGitHubBackend(client, GitHubOptions{Owner: "jane", Repository: "git-track", Branch: "main", Path: "commit-details.md"})
	created, err := existing.EnsureRepository(context.Background(), "jane")
	if err != nil {
		t.Fatalf("EnsureRepository: %v", err)
	}
	if created {
		t.Error("existing repository should not be created")
	}

	missing := NewGitHubBackend(client, GitHubOptions{Owner: "jane", Repository: "new-log", Branch: "main", Path: "commit-details.md"})
	created, err = missing.EnsureRepository(context.Background(), "jane")
	if err != nil {
		t.Fatalf("EnsureRepository: %v", err)
	}
	if !created {
		t.Error("missing repository should be created")
	}
	if len(fake.created) != 1 || fake.created[0] != "jane/new-log" {
		t.Errorf("created = %v", fake.created)
	}
}

func TestAuthenticatedUser(t *testing.T) {
	_, srv := newFakeGitHub(t)

	good, _ := NewGitHubClient("good-token", srv.URL)
	login, err := AuthenticatedUser(context.Background(), good)
	if err != nil {
		t.Fatalf("AuthenticatedUser: %v", err)
	}
	if login != "jane" {
		t.Errorf("login = %q, want jane", login)
	}

	bad, _ := NewGitHubClient("bad-token", srv.URL)
	if _, err := AuthenticatedUser(context.Background(), bad); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("AuthenticatedUser: got %v, want ErrUnauthorized", err)
	}
}

func TestS3Backend_Ping(t *testing.T) {
	if err := NewS3Backend(newFakeS3(), "logs", "k").Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	err := NewS3Backend(newFakeS3(), "other", "k").Ping(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Ping: got %v, want ErrUnauthorized", err)
	}
}

func TestRedisBackend_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	good := redis.NewClient(&redis.Options{Addr: mr.Addr(), Password: "secret"})
	t.Cleanup(func() { _ = good.Close() })
	if err := NewRedisBackend(good, "").Ping(context.Background()); err != nil {
		t.Errorf("Ping with password: %v", err)
	}

	bad := redis.NewClient(&redis.Options{Addr: mr.Addr(), Password: "wrong"})
	t.Cleanup(func() { _ = bad.Close() })
	if err := NewRedisBackend(bad, "").Ping(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Ping with wrong password: got %v, want ErrUnauthorized", err)
	}
}
