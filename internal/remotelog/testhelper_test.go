package remotelog

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
)

func testRecord(repo, hash, message string) *commitlog.Record {
	return &commitlog.Record{
		Hash:         hash,
		RepoName:     repo,
		RepoPath:     "/repos/" + repo,
		Branch:       "main",
		Message:      message,
		AuthorName:   "Jane",
		AuthorEmail:  "jane@example.com",
		AuthorTime:   time.Date(2024, 5, 1, 8, 33, 22, 0, time.UTC),
		ChangedFiles: []string{"x.txt"},
	}
}

// hookBackend runs beforePut ahead of every PutFile, which lets a test
// slip a competing write in between the read and the write.
type hookBackend struct {
	Backend
	mu        sync.Mutex
	puts      int
	beforePut func(n int)
}

func (h *hookBackend) PutFile(ctx context.Context, content []byte, revision, message string) (string, error) {
	h.mu.Lock()
	h.puts++
	n := h.puts
	h.mu.Unlock()

	if h.beforePut != nil {
		h.beforePut(n)
	}
	return h.Backend.PutFile(ctx, content, revision, message)
}

// errBackend fails every call with err.
type errBackend struct {
	err error
}

func (e errBackend) GetFile(context.Context) (*File, error) { return nil, e.err }
func (e errBackend) PutFile(context.Context, []byte, string, string) (string, error) {
	return "", e.err
}
func (e errBackend) Describe() string { return "err" }

// blockingBackend waits for the context to expire.
type blockingBackend struct{}

func (blockingBackend) GetFile(ctx context.Context) (*File, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingBackend) PutFile(ctx context.Context, _ []byte, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
func (blockingBackend) Describe() string { return "blocking" }

// fakeGitHub serves the subset of the GitHub REST API used by GitHubBackend.
type fakeGitHub struct {
	mu          sync.Mutex
	files       map[string][]byte
	repos       map[string]bool
	created     []string
	inlineLimit int
	token       string
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	t.Helper()
	f := &fakeGitHub{
		files: make(map[string][]byte),
		repos: map[string]bool{"jane/git-track": true},
		token: "good-token",
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func blobSHA(content []byte) string {
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/user" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"login": "jane", "id": 1})
	case r.URL.Path == "/user/repos" && r.Method == http.MethodPost:
		var body struct {
			Name    string `json:"name"`
			Private bool   `json:"private"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		full := "jane/" + body.Name
		f.repos[full] = true
		f.created = append(f.created, full)
		writeJSON(w, http.StatusCreated, map[string]any{"name": body.Name, "full_name": full, "private": body.Private})
	case len(parts) == 3 && parts[0] == "repos" && r.Method == http.MethodGet:
		full := parts[1] + "/" + parts[2]
		if !f.repos[full] {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": parts[2], "full_name": full})
	case len(parts) == 6 && parts[3] == "git" && parts[4] == "blobs":
		for _, content := range f.files {
			if blobSHA(content) == parts[5] {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(content)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	case len(parts) >= 5 && parts[0] == "repos" && parts[3] == "contents":
		f.serveContents(w, r, strings.Join(parts[4:], "/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}
}

func (f *fakeGitHub) serveContents(w http.ResponseWriter, r *http.Request, path string) {
	current, exists := f.files[path]

	switch r.Method {
	case http.MethodGet:
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		resp := map[string]any{
			"type": "file",
			"path": path,
			"sha":  blobSHA(current),
			"size": len(current),
		}
		if f.inlineLimit > 0 && len(current) > f.inlineLimit {
			resp["encoding"] = "none"
			resp["content"] = ""
		} else {
			resp["encoding"] = "base64"
			resp["content"] = base64.StdEncoding.EncodeToString(current)
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPut:
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			SHA     string `json:"sha"`
			Branch  string `json:"branch"`
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		if exists && body.SHA == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Invalid request.\n\n\"sha\" wasn't supplied."})
			return
		}
		if exists && body.SHA != blobSHA(current) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"message": fmt.Sprintf("%s does not match %s", path, body.SHA),
			})
			return
		}
		if !exists && body.SHA != "" {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "file does not exist"})
			return
		}
		content, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		f.files[path] = content
		status := http.StatusOK
		if !exists {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{
			"content": map[string]any{"path": path, "sha": blobSHA(content)},
			"commit":  map[string]any{"message": body.Message},
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// fakeS3 is an in-memory S3Client honoring conditional writes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	etags   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), etags: make(map[string]string)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...))),
		ETag: aws.String(f.etags[key]),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	etag, exists := f.etags[key]
	if in.IfNoneMatch != nil && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	if in.IfMatch != nil && (!exists || aws.ToString(in.IfMatch) != etag) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	f.etags[key] = `"` + blobSHA(data) + `"`
	return &s3.PutObjectOutput{ETag: aws.String(f.etags[key])}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "logs" {
		return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
	}
	return &s3.HeadBucketOutput{}, nil
}
