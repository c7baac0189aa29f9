package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Saved mindmaps. seq is the rowid shared with the vector table; id is the
-- public identifier.
CREATE TABLE IF NOT EXISTS mindmaps (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    topic TEXT NOT NULL,
    layout TEXT NOT NULL,
    shape TEXT NOT NULL DEFAULT 'json',
    source TEXT NOT NULL DEFAULT 'llm',
    model TEXT,
    graph JSON NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Topic embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS mindmap_vec USING vec0(
    mindmap_seq INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Token usage per LLM-backed operation
CREATE TABLE IF NOT EXISTS usage_records (
    id INTEGER PRIMARY KEY,
    user_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    model TEXT,
    prompt_tokens INTEGER DEFAULT 0,
    completion_tokens INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mindmaps_user ON mindmaps(user_id, created_at);
`, embeddingDim)
}
