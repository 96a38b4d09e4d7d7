package runstore

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    base_name TEXT NOT NULL,
    arguments TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    total INTEGER DEFAULT 0,
    published INTEGER DEFAULT 0,
    succeeded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_batches_started ON batches(started_at);

CREATE TABLE IF NOT EXISTS runs (
    batch_id TEXT NOT NULL REFERENCES batches(id),
    lake_key TEXT NOT NULL,
    state TEXT NOT NULL,
    fetch_attempts INTEGER DEFAULT 0,
    publish_attempts INTEGER DEFAULT 0,
    started_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    failure_kind TEXT,
    error TEXT,
    diagnostics TEXT,
    artifact_paths TEXT,
    work_dir TEXT,
    bundle_digest TEXT,
    PRIMARY KEY (batch_id, lake_key)
);

CREATE INDEX IF NOT EXISTS idx_runs_lake ON runs(lake_key);
CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    base_name TEXT NOT NULL,
    arguments TEXT,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    total INTEGER DEFAULT 0,
    published INTEGER DEFAULT 0,
    succeeded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_batches_started ON batches(started_at);

CREATE TABLE IF NOT EXISTS runs (
    batch_id TEXT NOT NULL REFERENCES batches(id),
    lake_key TEXT NOT NULL,
    state TEXT NOT NULL,
    fetch_attempts INTEGER DEFAULT 0,
    publish_attempts INTEGER DEFAULT 0,
    started_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    failure_kind TEXT,
    error TEXT,
    diagnostics TEXT,
    artifact_paths TEXT,
    work_dir TEXT,
    bundle_digest TEXT,
    PRIMARY KEY (batch_id, lake_key)
);

CREATE INDEX IF NOT EXISTS idx_runs_lake ON runs(lake_key);
CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
`
