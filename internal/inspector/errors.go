package inspector

import (
	"errors"
	"fmt"
)

// ErrNotAncestor is returned by Between when from is not an ancestor of to,
// which happens after history rewrites.
var ErrNotAncestor = errors.New("commit is not an ancestor")

// Reason classifies an inspection failure.
type Reason int

const (
	// CommandFailed covers git failures, missing binaries and timeouts.
	CommandFailed Reason = iota + 1
	// NotFound means the commit, repository or path does not exist.
	NotFound
)

func (r Reason) String() string {
	switch r {
	case CommandFailed:
		return "command failed"
	case NotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// InspectionError is returned for every failed git query.
type InspectionError struct {
	Reason   Reason
	RepoPath string
	Commit   string
	Err      error
}

func (e *InspectionError) Error() string {
	target := e.RepoPath
	if e.Commit != "" {
		target += "@" + e.Commit
	}
	return fmt.Sprintf("inspect %s: %s: %v", target, e.Reason, e.Err)
}

func (e *InspectionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an InspectionError with reason NotFound.
func IsNotFound(err error) bool {
	var ie *InspectionError
	return errors.As(err, &ie) && ie.Reason == NotFound
}
