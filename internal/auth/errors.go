package auth

import (
	"errors"
	"fmt"
)

// Reason classifies an AuthError.
type Reason int

const (
	// NoToken means no credential was found and none was entered.
	NoToken Reason = iota + 1
	// InvalidToken means the backend rejected the credential.
	InvalidToken
	// Cancelled means the user aborted the prompt.
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case NoToken:
		return "no token"
	case InvalidToken:
		return "invalid token"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AuthError reports why no session could be established.
type AuthError struct {
	Reason  Reason
	Backend string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s authentication failed: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s authentication failed: %s", e.Backend, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the Reason of an AuthError in err's chain, or 0.
func ReasonOf(err error) Reason {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return 0
}
