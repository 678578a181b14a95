package store

const schema = `
CREATE TABLE IF NOT EXISTS secrets (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS repositories (
    path TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    state TEXT NOT NULL,
    last_processed TEXT,
    last_error TEXT,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_history (
    id TEXT PRIMARY KEY,
    repo_path TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    commit_hash TEXT NOT NULL,
    branch TEXT,
    message TEXT,
    status TEXT NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_commits (
    repo_path TEXT NOT NULL,
    commit_hash TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 1,
    last_error TEXT,
    first_seen TIMESTAMP NOT NULL,
    last_attempt TIMESTAMP NOT NULL,
    PRIMARY KEY (repo_path, commit_hash)
);

CREATE INDEX IF NOT EXISTS idx_history_created ON sync_history(created_at);
CREATE INDEX IF NOT EXISTS idx_history_repo ON sync_history(repo_path);
CREATE INDEX IF NOT EXISTS idx_pending_repo ON pending_commits(repo_path);
`
