package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Typed node graph
CREATE TABLE IF NOT EXISTS nodes (
    id TEXT PRIMARY KEY,
    node_type TEXT NOT NULL,
    title TEXT NOT NULL,
    content_path TEXT,
    metadata JSON,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Directed labelled edges; endpoints cascade on node delete
CREATE TABLE IF NOT EXISTS edges (
    source_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    target_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE(source_id, target_id, relation_type)
);

-- Lexical shadow index: one row per node, body written by the ingest pipeline
CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
    id UNINDEXED,
    content_body,
    tokenize='porter unicode61'
);

-- Vector shadow index via sqlite-vec; rows written explicitly by the ingest
-- pipeline, one per embedded Chunk node
CREATE VIRTUAL TABLE IF NOT EXISTS nodes_vec USING vec0(
    id TEXT PRIMARY KEY,
    embedding float[%d]
);

-- Keep the lexical shadow row in lock-step with the nodes table.
-- An empty body is inserted on node creation; writers UPDATE it later.
CREATE TRIGGER IF NOT EXISTS nodes_ai AFTER INSERT ON nodes BEGIN
    INSERT INTO nodes_fts(id, content_body) VALUES (new.id, '');
END;
CREATE TRIGGER IF NOT EXISTS nodes_ad AFTER DELETE ON nodes BEGIN
    DELETE FROM nodes_fts WHERE id = old.id;
END;

-- Indexes
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation_type);
`, embeddingDim)
}
