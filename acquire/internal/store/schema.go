package store

// Schema is the ledger DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    triggered_by    TEXT NOT NULL DEFAULT 'cli',
    status          TEXT NOT NULL DEFAULT 'running',
    device_source   TEXT NOT NULL DEFAULT '',
    failures        TEXT NOT NULL DEFAULT '[]',
    error_message   TEXT NOT NULL DEFAULT '',
    started_at      INTEGER NOT NULL,
    finished_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS fetch_log (
    id              TEXT PRIMARY KEY,
    run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    resource        TEXT NOT NULL,
    source          TEXT NOT NULL,
    url             TEXT NOT NULL DEFAULT '',
    status_code     INTEGER NOT NULL DEFAULT 0,
    error_class     TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    fetched_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_run ON fetch_log(run_id, fetched_at);
`
