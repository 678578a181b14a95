package store

import "time"

// History statuses.
const (
	StatusLogged = "logged"
	StatusFailed = "failed"
)

// Repository mirrors the coordinator's view of one watched repository.
type Repository struct {
	Path          string
	Name          string
	State         string
	LastProcessed string
	LastError     string
	UpdatedAt     time.Time
}

// HistoryEntry records one attempt to mirror a commit.
type HistoryEntry struct {
	ID        string
	RepoPath  string
	RepoName  string
	Hash      string
	Branch    string
	Message   string
	Status    string // "logged" or "failed"
	Error     string
	CreatedAt time.Time
}

// PendingCommit is a commit that failed to mirror and awaits a retry.
type PendingCommit struct {
	RepoPath    string
	Hash        string
	Attempts    int
	LastError   string
	FirstSeen   time.Time
	LastAttempt time.Time
}
