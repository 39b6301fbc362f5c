package store

// schema is the full on-disk contract: every table and index docindex
// persists state in. Applied once per fresh database; CREATE TABLE IF
// NOT EXISTS / CREATE VIRTUAL TABLE guards make it safe to run against
// an already-migrated file.
const schema = `
CREATE TABLE IF NOT EXISTS blobs(
  content_hash TEXT PRIMARY KEY,
  data         BLOB NOT NULL,
  byte_len     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents(
  doc_id       TEXT PRIMARY KEY,
  title        TEXT NOT NULL,
  content_hash TEXT NOT NULL REFERENCES blobs(content_hash),
  updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks(
  chunk_id     TEXT PRIMARY KEY,
  doc_id       TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
  span_start   INTEGER NOT NULL,
  span_end     INTEGER NOT NULL,
  text         TEXT NOT NULL,
  content_hash TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
  chunk_id UNINDEXED, text, tokenize='unicode61'
);

CREATE TABLE IF NOT EXISTS trees(
  tree_hash    TEXT PRIMARY KEY,
  entries_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tree_docs(
  tree_hash    TEXT NOT NULL REFERENCES trees(tree_hash),
  doc_id       TEXT NOT NULL,
  content_hash TEXT NOT NULL REFERENCES blobs(content_hash),
  title        TEXT NOT NULL,
  PRIMARY KEY(tree_hash, doc_id)
);

CREATE TABLE IF NOT EXISTS tree_chunks(
  tree_hash    TEXT NOT NULL REFERENCES trees(tree_hash),
  chunk_id     TEXT NOT NULL,
  doc_id       TEXT NOT NULL,
  span_start   INTEGER NOT NULL,
  span_end     INTEGER NOT NULL,
  content_hash TEXT NOT NULL,
  chunker_id   TEXT NOT NULL,
  PRIMARY KEY(tree_hash, chunk_id)
);

CREATE TABLE IF NOT EXISTS commits(
  commit_hash  TEXT PRIMARY KEY,
  tree_hash    TEXT NOT NULL REFERENCES trees(tree_hash),
  parents_json TEXT NOT NULL,
  message      TEXT NOT NULL,
  created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS refs(
  ref_name     TEXT PRIMARY KEY,
  commit_hash  TEXT NOT NULL REFERENCES commits(commit_hash)
);

CREATE TABLE IF NOT EXISTS fts_maintenance(
  id      INTEGER PRIMARY KEY CHECK (id = 1),
  enabled INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fts_chunks(
  rowid        INTEGER PRIMARY KEY,
  tree_hash    TEXT NOT NULL,
  chunk_id     TEXT NOT NULL,
  text         TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  UNIQUE(tree_hash, chunk_id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks_fts USING fts5(
  content, content='fts_chunks', content_rowid='rowid', tokenize='unicode61'
);

CREATE TABLE IF NOT EXISTS index_artifacts(
  artifact_id  TEXT PRIMARY KEY,
  tree_hash    TEXT NOT NULL,
  kind         TEXT NOT NULL,
  model_id     TEXT,
  manifest     TEXT NOT NULL,
  payload_hash TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  UNIQUE(tree_hash, kind, model_id)
);

CREATE TABLE IF NOT EXISTS artifact_refs(
  ref_type TEXT NOT NULL CHECK (ref_type IN ('ref','commit','tree')),
  ref_name TEXT NOT NULL,
  kind     TEXT NOT NULL,
  PRIMARY KEY(ref_type, ref_name, kind)
);

CREATE TABLE IF NOT EXISTS chunk_embeddings(
  tree_hash    TEXT NOT NULL,
  chunk_id     TEXT NOT NULL,
  model_id     TEXT NOT NULL,
  dims         INTEGER NOT NULL,
  blob         BLOB NOT NULL,
  content_hash TEXT NOT NULL,
  PRIMARY KEY(tree_hash, chunk_id, model_id)
);

CREATE TABLE IF NOT EXISTS tasks(
  task_id         TEXT PRIMARY KEY,
  idempotency_key TEXT UNIQUE,
  title           TEXT NOT NULL,
  action          TEXT NOT NULL,
  payload_json    TEXT NOT NULL,
  next_run_at     TEXT NOT NULL,
  status          TEXT NOT NULL CHECK (status IN
                   ('pending','running','completed','canceled','failed')),
  created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_runs(
  run_id       TEXT PRIMARY KEY,
  task_id      TEXT NOT NULL REFERENCES tasks(task_id),
  status       TEXT NOT NULL CHECK (status IN ('started','succeeded','failed')),
  result_hash  TEXT,
  started_at   TEXT NOT NULL,
  finished_at  TEXT
);

CREATE TABLE IF NOT EXISTS audit_entries(
  request_id   TEXT PRIMARY KEY,
  tool_name    TEXT NOT NULL,
  inputs_hash  TEXT NOT NULL,
  outputs_hash TEXT NOT NULL,
  envelope_json TEXT NOT NULL,
  written_at   TEXT NOT NULL
);
`

// seedFTSMaintenance is applied once, outside schema creation, so a
// fresh database starts with the gate closed.
const seedFTSMaintenance = `
INSERT OR IGNORE INTO fts_maintenance(id, enabled) VALUES (1, 0);
`
