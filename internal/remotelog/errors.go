package remotelog

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Reason classifies a failed append.
type Reason int

const (
	Unknown Reason = iota
	Auth
	Network
	Conflict
)

func (r Reason) String() string {
	switch r {
	case Auth:
		return "auth"
	case Network:
		return "network"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// RemoteError is returned by Store operations.
type RemoteError struct {
	Reason Reason
	Op     string
	Err    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote log %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the Reason carried by err, or Unknown.
func ReasonOf(err error) Reason {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Reason
	}
	return classify(err)
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, ErrConflict):
		return Conflict
	case errors.Is(err, ErrUnauthorized):
		return Auth
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return Network
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Network
	}
	return Unknown
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Reason: classify(err), Op: op, Err: err}
}
