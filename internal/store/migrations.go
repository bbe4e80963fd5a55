package store

// Timestamps are stored as unix nanoseconds so ORDER BY and range
// predicates compare numerically.
const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    run_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    description TEXT NOT NULL,
    prompt_type TEXT,
    model TEXT,
    stage INTEGER NOT NULL DEFAULT 0,
    total_roles INTEGER NOT NULL DEFAULT 0,
    architecture TEXT,
    test_result TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints(updated_at);

CREATE TABLE IF NOT EXISTS checkpoint_roles (
    run_id TEXT NOT NULL REFERENCES checkpoints(run_id) ON DELETE CASCADE,
    role_index INTEGER NOT NULL,
    prompt TEXT NOT NULL,
    final_score REAL NOT NULL,
    iterations INTEGER NOT NULL,
    PRIMARY KEY (run_id, role_index)
);

CREATE TABLE IF NOT EXISTS history (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    description TEXT NOT NULL,
    prompt_type TEXT,
    model TEXT,
    system_name TEXT,
    total_roles INTEGER NOT NULL DEFAULT 0,
    average_score REAL NOT NULL DEFAULT 0,
    result_dir TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at);
`
