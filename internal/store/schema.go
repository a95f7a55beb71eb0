package store

// Schema is the SQLite schema of the fragment store. dependency_edges
// references profiles without cascading so the database itself refuses to
// drop a profile that is still referenced.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id             TEXT PRIMARY KEY,
    category       TEXT NOT NULL,
    name           TEXT NOT NULL,
    namespace      TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    config         TEXT NOT NULL,
    merge_strategy TEXT NOT NULL,
    priority       INTEGER NOT NULL DEFAULT 0,
    includes       TEXT NOT NULL DEFAULT '[]',
    version        INTEGER NOT NULL,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    UNIQUE (namespace, category, name)
);

CREATE TABLE IF NOT EXISTS composites (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    namespace   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    selection   TEXT NOT NULL,
    overrides   TEXT NOT NULL DEFAULT '{}',
    version     INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    UNIQUE (namespace, name)
);

CREATE TABLE IF NOT EXISTS dependency_edges (
    profile_id    TEXT NOT NULL REFERENCES profiles(id),
    consumer_id   TEXT NOT NULL,
    consumer_kind TEXT NOT NULL CHECK (consumer_kind IN ('composite', 'profile')),
    PRIMARY KEY (profile_id, consumer_kind, consumer_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_consumer ON dependency_edges(consumer_id, consumer_kind);
`
