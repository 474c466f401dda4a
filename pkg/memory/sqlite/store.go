// Package sqlite provides a SQLite-backed implementation of the Arbor storage
// contracts: [memory.TurnStore] and [memory.SnapshotStore] in a single
// database file.
//
// Embeddings and other slice-valued fields are stored as JSON, because
// modernc.org/sqlite has no vector extension; similarity math happens in the
// engine, never in SQL, so the store only needs faithful roundtrips.
//
// Suitable for single-node deployments; use the postgres package when
// multiple processes share one store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/skalvenes/arbor/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.TurnStore     = (*Store)(nil)
	_ memory.SnapshotStore = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    id          TEXT NOT NULL,
    role        TEXT NOT NULL,
    text        TEXT NOT NULL,
    embedding   TEXT NOT NULL DEFAULT '[]',
    timestamp   TEXT NOT NULL,
    entities    TEXT NOT NULL DEFAULT '[]',
    UNIQUE (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, seq);

CREATE TABLE IF NOT EXISTS tree_nodes (
    session_id   TEXT    NOT NULL,
    id           INTEGER NOT NULL,
    kind         TEXT    NOT NULL,
    owned_turns  TEXT    NOT NULL DEFAULT '[]',
    centroid     TEXT    NOT NULL DEFAULT '[]',
    summary_text TEXT    NOT NULL DEFAULT '',
    children     TEXT    NOT NULL DEFAULT '[]',
    parent       INTEGER NOT NULL,
    depth        INTEGER NOT NULL,
    created_at   TEXT    NOT NULL,
    PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS graph_entities (
    session_id     TEXT NOT NULL,
    id             TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    aliases        TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS graph_edges (
    session_id       TEXT NOT NULL,
    source           TEXT NOT NULL,
    target           TEXT NOT NULL,
    relation         TEXT NOT NULL,
    supporting_turns TEXT NOT NULL DEFAULT '[]',
    confidence       REAL NOT NULL,
    PRIMARY KEY (session_id, source, target, relation)
);
`

// Store is the SQLite-backed memory store. It implements both
// [memory.TurnStore] and [memory.SnapshotStore] over a single database file.
//
// Safe for concurrent use: writes are serialized over one connection.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %q: %w", path, err)
	}

	// SQLite is single-writer by design. A single shared connection lets
	// database/sql serialize callers instead of them fighting for write locks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// TurnStore
// ─────────────────────────────────────────────────────────────────────────────

// Append implements [memory.TurnStore].
func (s *Store) Append(ctx context.Context, sessionID string, turn memory.Turn) error {
	if sessionID == "" {
		return fmt.Errorf("turn store: session id must not be empty")
	}
	if turn.ID == "" {
		return fmt.Errorf("turn store: turn id must not be empty")
	}

	embedding, err := marshalJSON(turn.Embedding)
	if err != nil {
		return fmt.Errorf("turn store: encode embedding: %w", err)
	}
	// The entities column is reserved (see memory.Turn); the engine writes
	// it empty and keeps mentions in the graph snapshot instead.
	entities, err := marshalJSON(turn.Entities)
	if err != nil {
		return fmt.Errorf("turn store: encode entities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, id, role, text, embedding, timestamp, entities)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		string(turn.ID),
		string(turn.Role),
		turn.Text,
		embedding,
		turn.Timestamp.UTC().Format(time.RFC3339Nano),
		entities,
	)
	if err != nil {
		return fmt.Errorf("turn store: append %q: %w", turn.ID, err)
	}
	return nil
}

// Get implements [memory.TurnStore]. Returns (nil, nil) when the turn does
// not exist.
func (s *Store) Get(ctx context.Context, sessionID string, id memory.TurnID) (*memory.Turn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, role, text, embedding, timestamp, entities
		FROM   turns
		WHERE  session_id = ? AND id = ?`,
		sessionID, string(id))

	turn, err := scanTurn(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("turn store: get %q: %w", id, err)
	}
	return &turn, nil
}

// Turns implements [memory.TurnStore]. Unknown IDs are skipped; the result
// preserves the order of ids.
func (s *Store) Turns(ctx context.Context, sessionID string, ids []memory.TurnID) ([]memory.Turn, error) {
	result := make([]memory.Turn, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, sessionID, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			result = append(result, *t)
		}
	}
	return result, nil
}

// Count implements [memory.TurnStore].
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("turn store: count: %w", err)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SnapshotStore
// ─────────────────────────────────────────────────────────────────────────────

// SaveTree implements [memory.SnapshotStore]. The stored snapshot is replaced
// wholesale inside a transaction.
func (s *Store) SaveTree(ctx context.Context, sessionID string, nodes []memory.TreeNode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot store: save tree: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tree_nodes WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("snapshot store: save tree: clear: %w", err)
	}

	for _, n := range nodes {
		owned, err := marshalJSON(n.OwnedTurns)
		if err != nil {
			return fmt.Errorf("snapshot store: save tree: encode owned turns: %w", err)
		}
		centroid, err := marshalJSON(n.Centroid)
		if err != nil {
			return fmt.Errorf("snapshot store: save tree: encode centroid: %w", err)
		}
		children, err := marshalJSON(n.Children)
		if err != nil {
			return fmt.Errorf("snapshot store: save tree: encode children: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tree_nodes
			    (session_id, id, kind, owned_turns, centroid, summary_text, children, parent, depth, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID,
			int64(n.ID),
			string(n.Kind),
			owned,
			centroid,
			n.SummaryText,
			children,
			int64(n.Parent),
			n.Depth,
			n.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("snapshot store: save tree: insert node %d: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot store: save tree: commit: %w", err)
	}
	return nil
}

// LoadTree implements [memory.SnapshotStore]. Returns an empty (non-nil)
// slice when no snapshot exists.
func (s *Store) LoadTree(ctx context.Context, sessionID string) ([]memory.TreeNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, owned_turns, centroid, summary_text, children, parent, depth, created_at
		FROM   tree_nodes
		WHERE  session_id = ?
		ORDER  BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: load tree: %w", err)
	}
	defer rows.Close()

	nodes := []memory.TreeNode{}
	for rows.Next() {
		var (
			n                     memory.TreeNode
			owned, centroid, kids string
			parent                int64
			createdAt             string
		)
		if err := rows.Scan(&n.ID, &n.Kind, &owned, &centroid, &n.SummaryText, &kids, &parent, &n.Depth, &createdAt); err != nil {
			return nil, fmt.Errorf("snapshot store: load tree: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(owned), &n.OwnedTurns); err != nil {
			return nil, fmt.Errorf("snapshot store: load tree: decode owned turns: %w", err)
		}
		if err := json.Unmarshal([]byte(centroid), &n.Centroid); err != nil {
			return nil, fmt.Errorf("snapshot store: load tree: decode centroid: %w", err)
		}
		if err := json.Unmarshal([]byte(kids), &n.Children); err != nil {
			return nil, fmt.Errorf("snapshot store: load tree: decode children: %w", err)
		}
		n.Parent = memory.NodeID(parent)
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("snapshot store: load tree: parse created_at: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot store: load tree: %w", err)
	}
	return nodes, nil
}

// SaveGraph implements [memory.SnapshotStore].
func (s *Store) SaveGraph(ctx context.Context, sessionID string, entities []memory.Entity, edges []memory.CausalEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot store: save graph: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("snapshot store: save graph: clear edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_entities WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("snapshot store: save graph: clear entities: %w", err)
	}

	for _, e := range entities {
		aliases, err := marshalJSON(e.Aliases)
		if err != nil {
			return fmt.Errorf("snapshot store: save graph: encode aliases: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO graph_entities (session_id, id, canonical_name, aliases) VALUES (?, ?, ?, ?)`,
			sessionID, string(e.ID), e.CanonicalName, aliases)
		if err != nil {
			return fmt.Errorf("snapshot store: save graph: insert entity %q: %w", e.ID, err)
		}
	}
	for _, e := range edges {
		supporting, err := marshalJSON(e.SupportingTurns)
		if err != nil {
			return fmt.Errorf("snapshot store: save graph: encode supporting turns: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_edges (session_id, source, target, relation, supporting_turns, confidence)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, string(e.Source), string(e.Target), e.Relation, supporting, e.Confidence)
		if err != nil {
			return fmt.Errorf("snapshot store: save graph: insert edge %q->%q: %w", e.Source, e.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot store: save graph: commit: %w", err)
	}
	return nil
}

// LoadGraph implements [memory.SnapshotStore]. Returns empty (non-nil)
// slices when no snapshot exists.
func (s *Store) LoadGraph(ctx context.Context, sessionID string) ([]memory.Entity, []memory.CausalEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, canonical_name, aliases FROM graph_entities WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot store: load graph: entities: %w", err)
	}
	defer rows.Close()

	entities := []memory.Entity{}
	for rows.Next() {
		var (
			e       memory.Entity
			aliases string
		)
		if err := rows.Scan(&e.ID, &e.CanonicalName, &aliases); err != nil {
			return nil, nil, fmt.Errorf("snapshot store: load graph: scan entity: %w", err)
		}
		if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
			return nil, nil, fmt.Errorf("snapshot store: load graph: decode aliases: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("snapshot store: load graph: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT source, target, relation, supporting_turns, confidence
		FROM   graph_edges
		WHERE  session_id = ?
		ORDER  BY source, target, relation`,
		sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot store: load graph: edges: %w", err)
	}
	defer edgeRows.Close()

	edges := []memory.CausalEdge{}
	for edgeRows.Next() {
		var (
			e          memory.CausalEdge
			supporting string
		)
		if err := edgeRows.Scan(&e.Source, &e.Target, &e.Relation, &supporting, &e.Confidence); err != nil {
			return nil, nil, fmt.Errorf("snapshot store: load graph: scan edge: %w", err)
		}
		if err := json.Unmarshal([]byte(supporting), &e.SupportingTurns); err != nil {
			return nil, nil, fmt.Errorf("snapshot store: load graph: decode supporting turns: %w", err)
		}
		edges = append(edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("snapshot store: load graph: %w", err)
	}

	return entities, edges, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

// scanTurn decodes one turns row via the given scan function.
func scanTurn(scan func(dest ...any) error) (memory.Turn, error) {
	var (
		t                   memory.Turn
		embedding, entities string
		timestamp           string
	)
	if err := scan(&t.ID, &t.Role, &t.Text, &embedding, &timestamp, &entities); err != nil {
		return memory.Turn{}, err
	}
	if err := json.Unmarshal([]byte(embedding), &t.Embedding); err != nil {
		return memory.Turn{}, fmt.Errorf("decode embedding: %w", err)
	}
	if err := json.Unmarshal([]byte(entities), &t.Entities); err != nil {
		return memory.Turn{}, fmt.Errorf("decode entities: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return memory.Turn{}, fmt.Errorf("parse timestamp: %w", err)
	}
	t.Timestamp = ts
	return t, nil
}

// marshalJSON encodes v as JSON, mapping nil slices to "[]".
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(b)
	if s == "null" {
		s = "[]"
	}
	return s, nil
}
