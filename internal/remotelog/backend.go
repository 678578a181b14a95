// Package remotelog maintains the shared Markdown commit log in a remote
// object store. Appends are conditional on the revision read just before
// the write, so concurrent writers never silently overwrite each other.
package remotelog

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("log file not found")
	ErrConflict     = errors.New("log file revision conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("backend unavailable")
)

// File is a snapshot of the remote log and the revision it was read at.
type File struct {
	Content  []byte
	Revision string
}

// Backend reads and conditionally writes the single remote log file.
//
// PutFile must fail with ErrConflict when revision no longer matches the
// stored file. An empty revision means the file must not exist yet.
type Backend interface {
	GetFile(ctx context.Context) (*File, error)
	PutFile(ctx context.Context, content []byte, revision, message string) (string, error)
	// Describe returns a human readable location, e.g. "github:me/git-track@main:commit-details.md".
	Describe() string
}

// CommitMessage is the message attached to every log update.
func CommitMessage(hash string) string {
	return fmt.Sprintf("Update commit details for %s", hash)
}
