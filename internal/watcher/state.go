package watcher

import (
	"fmt"
	"time"
)

// State is the lifecycle state of one watched repository.
type State int

const (
	StateDiscovered State = iota
	StateListening
	StateEvaluating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateListening:
		return "listening"
	case StateEvaluating:
		return "evaluating"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateDiscovered, StateListening, StateEvaluating, StateClosed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// RepoStatus is a point-in-time view of one watched repository.
type RepoStatus struct {
	Path          string    `json:"path"`
	Name          string    `json:"name"`
	State         State     `json:"state"`
	Branch        string    `json:"branch,omitempty"`
	Head          string    `json:"head,omitempty"`
	LastProcessed string    `json:"last_processed,omitempty"`
	Logged        int       `json:"logged"`
	Failed        int       `json:"failed"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
}
