package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// historyTimeLayout is fixed width so created_at sorts lexically.
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Secret operations

// SetSecret inserts or replaces a secret.
func (s *Store) SetSecret(key, value string) error {
	query := `INSERT OR REPLACE INTO secrets (key, value, updated_at) VALUES (?, ?, ?)`
	if _, err := s.db.Exec(query, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return wrapErr(err, "failed to store secret %s", key)
	}
	return nil
}

// GetSecret returns the secret stored under key and whether it exists.
func (s *Store) GetSecret(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr(err, "failed to read secret %s", key)
	}
	return value, true, nil
}

// DeleteSecret removes a secret. Deleting a missing key is not an error.
func (s *Store) DeleteSecret(key string) error {
	if _, err := s.db.Exec(`DELETE FROM secrets WHERE key = ?`, key); err != nil {
		return wrapErr(err, "failed to delete secret %s", key)
	}
	return nil
}

// Repository operations

// UpsertRepository inserts or replaces the state row for repo.Path.
func (s *Store) UpsertRepository(repo *Repository) error {
	updated := repo.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO repositories
		(path, name, state, last_processed, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		repo.Path,
		repo.Name,
		repo.State,
		repo.LastProcessed,
		repo.LastError,
		updated.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return wrapErr(err, "failed to upsert repository %s", repo.Path)
	}
	return nil
}

// DeleteRepository removes the state row for path.
func (s *Store) DeleteRepository(path string) error {
	if _, err := s.db.Exec(`DELETE FROM repositories WHERE path = ?`, path); err != nil {
		return wrapErr(err, "failed to delete repository %s", path)
	}
	return nil
}

// ListRepositories returns all repository rows ordered by path.
func (s *Store) ListRepositories() ([]*Repository, error) {
	query := `
		SELECT path, name, state, COALESCE(last_processed, ''), COALESCE(last_error, ''), updated_at
		FROM repositories
		ORDER BY path
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, wrapErr(err, "failed to list repositories")
	}
	defer rows.Close()

	var repos []*Repository
	for rows.Next() {
		var repo Repository
		var updatedAt string

		if err := rows.Scan(&repo.Path, &repo.Name, &repo.State, &repo.LastProcessed, &repo.LastError, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository row: %w", err)
		}
		repo.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at for %s: %w", repo.Path, err)
		}
		repos = append(repos, &repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repositories: %w", err)
	}
	return repos, nil
}

// ClearRepositories removes every repository row. The daemon calls it on
// startup so stale rows from a previous run do not linger.
func (s *Store) ClearRepositories() error {
	if _, err := s.db.Exec(`DELETE FROM repositories`); err != nil {
		return wrapErr(err, "failed to clear repositories")
	}
	return nil
}

// History operations

// InsertHistory records a mirror attempt. An empty ID is filled with a
// random UUID.
func (s *Store) InsertHistory(entry *HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO sync_history
		(id, repo_path, repo_name, commit_hash, branch, message, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		entry.ID,
		entry.RepoPath,
		entry.RepoName,
		entry.Hash,
		entry.Branch,
		entry.Message,
		entry.Status,
		entry.Error,
		entry.CreatedAt.UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return wrapErr(err, "failed to insert history for %s", entry.Hash)
	}
	return nil
}

// RecentHistory returns up to limit entries, newest first. A non-empty
// repoPath restricts the result to one repository.
func (s *Store) RecentHistory(repoPath string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, repo_path, repo_name, commit_hash, COALESCE(branch, ''), COALESCE(message, ''),
		       status, COALESCE(error, ''), created_at
		FROM sync_history
		WHERE (? = '' OR repo_path = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, repoPath, repoPath, limit)
	if err != nil {
		return nil, wrapErr(err, "failed to query history")
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var createdAt string

		err := rows.Scan(&e.ID, &e.RepoPath, &e.RepoName, &e.Hash, &e.Branch, &e.Message, &e.Status, &e.Error, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.CreatedAt, err = time.Parse(historyTimeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at for %s: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}

// CountHistory returns the number of history rows with status.
func (s *Store) CountHistory(status string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_history WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, wrapErr(err, "failed to count history")
	}
	return count, nil
}

// Pending commit operations

// RecordPending notes a failed attempt for (repoPath, hash), incrementing
// the attempt counter on repeats.
func (s *Store) RecordPending(repoPath, hash, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO pending_commits (repo_path, commit_hash, attempts, last_error, first_seen, last_attempt)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT (repo_path, commit_hash) DO UPDATE SET
			attempts = attempts + 1,
			last_error = excluded.last_error,
			last_attempt = excluded.last_attempt
	`
	if _, err := s.db.Exec(query, repoPath, hash, lastError, now, now); err != nil {
		return wrapErr(err, "failed to record pending commit %s", hash)
	}
	return nil
}

// ClearPending removes the pending row for (repoPath, hash).
func (s *Store) ClearPending(repoPath, hash string) error {
	if _, err := s.db.Exec(`DELETE FROM pending_commits WHERE repo_path = ? AND commit_hash = ?`, repoPath, hash); err != nil {
		return wrapErr(err, "failed to clear pending commit %s", hash)
	}
	return nil
}

// ClearPendingForRepo removes every pending row for repoPath.
func (s *Store) ClearPendingForRepo(repoPath string) error {
	if _, err := s.db.Exec(`DELETE FROM pending_commits WHERE repo_path = ?`, repoPath); err != nil {
		return wrapErr(err, "failed to clear pending commits for %s", repoPath)
	}
	return nil
}

// ListPending returns pending commits, oldest first.
func (s *Store) ListPending() ([]*PendingCommit, error) {
	query := `
		SELECT repo_path, commit_hash, attempts, COALESCE(last_error, ''), first_seen, last_attempt
		FROM pending_commits
		ORDER BY first_seen, repo_path
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, wrapErr(err, "failed to list pending commits")
	}
	defer rows.Close()

	var pending []*PendingCommit
	for rows.Next() {
		var p PendingCommit
		var firstSeen, lastAttempt string

		if err := rows.Scan(&p.RepoPath, &p.Hash, &p.Attempts, &p.LastError, &firstSeen, &lastAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		if p.FirstSeen, err = time.Parse(time.RFC3339, firstSeen); err != nil {
			return nil, fmt.Errorf("failed to parse first_seen: %w", err)
		}
		if p.LastAttempt, err = time.Parse(time.RFC3339, lastAttempt); err != nil {
			return nil, fmt.Errorf("failed to parse last_attempt: %w", err)
		}
		pending = append(pending, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending commits: %w", err)
	}
	return pending, nil
}
