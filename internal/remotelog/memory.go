package remotelog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryBackend keeps the log in process memory. It enforces the same
// revision rules as the remote backends. It is safe for concurrent use.
type MemoryBackend struct {
	mu       sync.Mutex
	content  []byte
	revision int
	exists   bool
	writes   int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) GetFile(ctx context.Context) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		return nil, ErrNotFound
	}
	data := make([]byte, len(m.content))
	copy(data, m.content)
	return &File{Content: data, Revision: strconv.Itoa(m.revision)}, nil
}

func (m *MemoryBackend) PutFile(ctx context.Context, content []byte, revision, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case revision == "" && m.exists:
		return "", fmt.Errorf("file already exists: %w", ErrConflict)
	case revision != "" && !m.exists:
		return "", fmt.Errorf("file does not exist: %w", ErrConflict)
	case revision != "" && revision != strconv.Itoa(m.revision):
		return "", fmt.Errorf("file is at %d but expected %s: %w", m.revision, revision, ErrConflict)
	}

	m.content = make([]byte, len(content))
	copy(m.content, content)
	m.exists = true
	m.revision++
	m.writes++
	return strconv.Itoa(m.revision), nil
}

func (m *MemoryBackend) Describe() string {
	return "memory"
}

// Content returns the stored log.
func (m *MemoryBackend) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.content)
}

// Writes returns the number of successful writes.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
