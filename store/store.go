// Package store owns the persistent node graph and the lexical/vector
// shadow indexes that mirror it. It is the only component that mutates
// those rows; search, ingestion, and the agent all go through it.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Reserved node types. NodeType is an open string tag; these are the
// values the core itself creates and queries.
const (
	TypeProject  = "Project"
	TypeSource   = "Source"
	TypeChunk    = "Chunk"
	TypeArtifact = "Artifact"
	TypeChat     = "Chat"
	TypeConcept  = "Concept"
)

// Reserved relation types.
const (
	RelHasSource      = "HAS_SOURCE"
	RelHasArtifact    = "HAS_ARTIFACT"
	RelHasChunk       = "has_chunk"
	RelCites          = "CITES"
	RelConversationIn = "CONVERSATION_IN"
	RelRelatedTo      = "RELATED_TO"
	RelSupports       = "SUPPORTS"
	RelContradicts    = "CONTRADICTS"
	RelExtends        = "EXTENDS"
)

var (
	// ErrNodeNotFound is returned when an operation requires a node that
	// does not exist.
	ErrNodeNotFound = errors.New("store: node not found")

	// ErrUnknownField is returned by UpdateNode for field names outside
	// the updatable set.
	ErrUnknownField = errors.New("store: unknown field")

	// ErrNoFields is returned by UpdateNode when no fields are given.
	ErrNoFields = errors.New("store: no fields to update")
)

// Node is a typed vertex of the content graph.
type Node struct {
	ID          string         `json:"id"`
	NodeType    string         `json:"node_type"`
	Title       string         `json:"title"`
	ContentPath string         `json:"content_path,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// Edge is a directed labelled relation between two nodes. The triple
// (SourceID, TargetID, RelationType) is unique.
type Edge struct {
	SourceID     string `json:"source_id"`
	TargetID     string `json:"target_id"`
	RelationType string `json:"relation_type"`
	CreatedAt    int64  `json:"created_at"`
}

// Graph holds every node and edge, for visualisation and export.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NewNode carries the caller-supplied fields for node creation.
// ID is optional; a fresh UUID is assigned when empty.
type NewNode struct {
	ID          string
	NodeType    string
	Title       string
	ContentPath string
	Metadata    map[string]any
}

// Store wraps the SQLite database for all persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec and FTS5 virtual
// tables. FTS5 requires building with the sqlite_fts5 tag
// (CGO_ENABLED=1 go build -tags sqlite_fts5); without it schema
// creation fails with "no such module: fts5".
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite: one writer, a few readers.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Node operations ---

// CreateNode inserts a new node and returns the materialised row.
// The nodes_ai trigger inserts a companion lexical-index row with an
// empty body.
func (s *Store) CreateNode(ctx context.Context, n NewNode) (*Node, error) {
	id := n.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().Unix()

	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}

	var contentPath any
	if n.ContentPath != "" {
		contentPath = n.ContentPath
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, node_type, title, content_path, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, n.NodeType, n.Title, contentPath, string(metaJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting node: %w", err)
	}

	return s.GetNode(ctx, id)
}

// GetNode fetches a single node by id. Returns nil (no error) when the
// node does not exist.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, node_type, title, content_path, metadata, created_at, updated_at
		FROM nodes WHERE id = ?
	`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// updatableFields is the set of node fields UpdateNode accepts.
var updatableFields = map[string]bool{
	"title":        true,
	"node_type":    true,
	"content_path": true,
	"metadata":     true,
}

// UpdateNode atomically updates the named fields and updated_at.
// Unknown field names yield ErrUnknownField; a missing node yields
// ErrNodeNotFound.
func (s *Store) UpdateNode(ctx context.Context, id string, fields map[string]any) (*Node, error) {
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	for name := range fields {
		if !updatableFields[name] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
	}

	existing, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	setClause := ""
	args := make([]any, 0, len(fields)+2)
	for name, value := range fields {
		if name == "metadata" {
			metaJSON, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("marshalling metadata: %w", err)
			}
			value = string(metaJSON)
		}
		if setClause != "" {
			setClause += ", "
		}
		setClause += name + " = ?"
		args = append(args, value)
	}
	args = append(args, time.Now().Unix(), id)

	_, err = s.db.ExecContext(ctx,
		"UPDATE nodes SET "+setClause+", updated_at = ? WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("updating node: %w", err)
	}

	return s.GetNode(ctx, id)
}

// DeleteNode removes a node, its incident edges (FK cascade), and its
// lexical/vector shadow rows. Unknown ids are a no-op.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// vec0 tables have no FK support; mirror the cascade explicitly.
		if _, err := tx.ExecContext(ctx, "DELETE FROM nodes_vec WHERE id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id)
		return err
	})
}

// ListNodes returns all nodes, optionally filtered by node type, newest
// first.
func (s *Store) ListNodes(ctx context.Context, nodeType string) ([]Node, error) {
	var rows *sql.Rows
	var err error
	if nodeType != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, node_type, title, content_path, metadata, created_at, updated_at
			FROM nodes WHERE node_type = ? ORDER BY created_at DESC
		`, nodeType)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, node_type, title, content_path, metadata, created_at, updated_at
			FROM nodes ORDER BY created_at DESC
		`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// --- Edge operations ---

// ConnectNodes creates a directed edge. Idempotent on the
// (source, target, relation) triple via INSERT OR IGNORE. Both endpoints
// must exist or the foreign-key constraint fails.
func (s *Store) ConnectNodes(ctx context.Context, sourceID, targetID, relationType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges (source_id, target_id, relation_type, created_at)
		VALUES (?, ?, ?, ?)
	`, sourceID, targetID, relationType, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("connecting %s -> %s: %w", sourceID, targetID, err)
	}
	return nil
}

// GetEdges returns all edges where the node is either endpoint.
func (s *Store) GetEdges(ctx context.Context, nodeID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, relation_type, created_at
		FROM edges
		WHERE source_id = ? OR target_id = ?
	`, nodeID, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// GetGraph returns every node and edge in the store.
func (s *Store) GetGraph(ctx context.Context) (*Graph, error) {
	nodes, err := s.ListNodes(ctx, "")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, target_id, relation_type, created_at FROM edges")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges, err := scanEdges(rows)
	if err != nil {
		return nil, err
	}
	return &Graph{Nodes: nodes, Edges: edges}, nil
}

// --- Shadow index writes (owned by the ingest pipeline) ---

// SetContentBody writes the lexical-index body for a node. The nodes_ai
// trigger inserted a blank row at node creation; this replaces it.
func (s *Store) SetContentBody(ctx context.Context, nodeID, body string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE nodes_fts SET content_body = ? WHERE id = ?", body, nodeID)
	return err
}

// InsertEmbedding stores a vector for a node. Idempotent on node id.
func (s *Store) InsertEmbedding(ctx context.Context, nodeID string, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("store: embedding dimension %d, want %d", len(embedding), s.embeddingDim)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO nodes_vec (id, embedding) VALUES (?, ?)",
		nodeID, serializeFloat32(embedding))
	return err
}

// HasEmbedding reports whether a node has a vector-index row.
func (s *Store) HasEmbedding(ctx context.Context, nodeID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM nodes_vec WHERE id = ?", nodeID).Scan(&count)
	return count > 0, err
}

// ContentBody reads back the lexical-index body for a node. Returns
// false when no row exists.
func (s *Store) ContentBody(ctx context.Context, nodeID string) (string, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT content_body FROM nodes_fts WHERE id = ?", nodeID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return body, true, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (*Node, error) {
	var n Node
	var contentPath sql.NullString
	var metadata sql.NullString
	if err := r.Scan(&n.ID, &n.NodeType, &n.Title, &contentPath,
		&metadata, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.ContentPath = contentPath.String
	n.Metadata = map[string]any{}
	if metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &n.Metadata); err != nil {
			return nil, fmt.Errorf("decoding node metadata: %w", err)
		}
	}
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.RelationType, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
