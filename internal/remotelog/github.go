package remotelog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
)

// GitHubOptions locates the log file inside a GitHub repository.
type GitHubOptions struct {
	Owner      string
	Repository string
	Branch     string
	Path       string
}

// GitHubBackend stores the log through the GitHub contents API. The
// revision is the blob SHA of the file.
type GitHubBackend struct {
	client *github.Client
	opts   GitHubOptions
}

// NewGitHubClient creates an authenticated client. An empty baseURL talks
// to api.github.com.
func NewGitHubClient(token, baseURL string) (*github.Client, error) {
	client := github.NewClient(nil).WithAuthToken(token)
	if baseURL == "" {
		return client, nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse github url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	client.BaseURL = u
	return client, nil
}

// NewGitHubBackend creates a backend for opts.
func NewGitHubBackend(client *github.Client, opts GitHubOptions) *GitHubBackend {
	return &GitHubBackend{client: client, opts: opts}
}

func (g *GitHubBackend) GetFile(ctx context.Context) (*File, error) {
	fc, _, _, err := g.client.Repositories.GetContents(ctx, g.opts.Owner, g.opts.Repository, g.opts.Path,
		&github.RepositoryContentGetOptions{Ref: g.opts.Branch})
	if err != nil {
		return nil, mapGitHubError(err, false)
	}
	if fc == nil {
		return nil, fmt.Errorf("%s is a directory", g.opts.Path)
	}

	// Files above 1MB come back without inline content.
	if fc.GetEncoding() == "none" {
		raw, _, err := g.client.Git.GetBlobRaw(ctx, g.opts.Owner, g.opts.Repository, fc.GetSHA())
		if err != nil {
			return nil, mapGitHubError(err, false)
		}
		return &File{Content: raw, Revision: fc.GetSHA()}, nil
	}

	content, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", g.opts.Path, err)
	}
	return &File{Content: []byte(content), Revision: fc.GetSHA()}, nil
}

func (g *GitHubBackend) PutFile(ctx context.Context, content []byte, revision, message string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(g.opts.Branch),
	}

	var (
		resp *github.RepositoryContentResponse
		err  error
	)
	if revision == "" {
		resp, _, err = g.client.Repositories.CreateFile(ctx, g.opts.Owner, g.opts.Repository, g.opts.Path, opts)
	} else {
		opts.SHA = github.String(revision)
		resp, _, err = g.client.Repositories.UpdateFile(ctx, g.opts.Owner, g.opts.Repository, g.opts.Path, opts)
	}
	if err != nil {
		return "", mapGitHubError(err, revision == "")
	}
	if resp == nil || resp.Content == nil {
		return "", nil
	}
	return resp.Content.GetSHA(), nil
}

func (g *GitHubBackend) Describe() string {
	return fmt.Sprintf("github:%s/%s@%s:%s", g.opts.Owner, g.opts.Repository, g.opts.Branch, g.opts.Path)
}

// AuthenticatedUser returns the login of the token owner.
func AuthenticatedUser(ctx context.Context, client *github.Client) (string, error) {
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return "", mapGitHubError(err, false)
	}
	return user.GetLogin(), nil
}

// EnsureRepository creates the tracking repository as a private repository
// when it does not exist. login is the authenticated user; a different
// owner is treated as an organization.
func (g *GitHubBackend) EnsureRepository(ctx context.Context, login string) (bool, error) {
	_, _, err := g.client.Repositories.Get(ctx, g.opts.Owner, g.opts.Repository)
	if err == nil {
		return false, nil
	}
	if mapped := mapGitHubError(err, false); !errors.Is(mapped, ErrNotFound) {
		return false, mapped
	}

	org := ""
	if !strings.EqualFold(g.opts.Owner, login) {
		org = g.opts.Owner
	}
	_, _, err = g.client.Repositories.Create(ctx, org, &github.Repository{
		Name:        github.String(g.opts.Repository),
		Description: github.String("Commit log maintained by gittrack"),
		Private:     github.Bool(true),
		AutoInit:    github.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("create repository %s/%s: %w", g.opts.Owner, g.opts.Repository, mapGitHubError(err, false))
	}
	return true, nil
}

// mapGitHubError translates API failures into backend sentinels. creating
// marks a write without a SHA, where GitHub answers 422 if the file exists.
func mapGitHubError(err error, creating bool) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return err
	}

	switch code := ghErr.Response.StatusCode; {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case code == http.StatusUnprocessableEntity && creating:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case code >= 500:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
