// Package postgres provides a PostgreSQL-backed implementation of the Arbor
// storage contracts: [memory.TurnStore] over a pgvector-typed turns table and
// [memory.SnapshotStore] over per-session tree and graph snapshot tables.
//
// Both contracts share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, sessionID, turn)
//	_ = store.SaveTree(ctx, sessionID, nodes)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Turn store DDL
// ─────────────────────────────────────────────────────────────────────────────

// ddlTurns returns the turns DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlTurns(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
    seq         BIGSERIAL,
    session_id  TEXT         NOT NULL,
    id          TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    embedding   vector(%d),
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    entities    JSONB        NOT NULL DEFAULT '[]',
    PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_turns_session_seq
    ON turns (session_id, seq);
`, embeddingDimensions)
}

// ─────────────────────────────────────────────────────────────────────────────
// Snapshot DDL — renormalization tree + causal graph
// ─────────────────────────────────────────────────────────────────────────────

// ddlSnapshots returns the snapshot DDL. Tree node centroids reuse the same
// vector dimension as turn embeddings.
func ddlSnapshots(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS tree_nodes (
    session_id   TEXT         NOT NULL,
    id           BIGINT       NOT NULL,
    kind         TEXT         NOT NULL,
    owned_turns  JSONB        NOT NULL DEFAULT '[]',
    centroid     vector(%d),
    summary_text TEXT         NOT NULL DEFAULT '',
    children     JSONB        NOT NULL DEFAULT '[]',
    parent       BIGINT       NOT NULL,
    depth        INT          NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS graph_entities (
    session_id     TEXT   NOT NULL,
    id             TEXT   NOT NULL,
    canonical_name TEXT   NOT NULL,
    aliases        JSONB  NOT NULL DEFAULT '[]',
    PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS graph_edges (
    session_id       TEXT              NOT NULL,
    source           TEXT              NOT NULL,
    target           TEXT              NOT NULL,
    relation         TEXT              NOT NULL,
    supporting_turns JSONB             NOT NULL DEFAULT '[]',
    confidence       DOUBLE PRECISION  NOT NULL,
    PRIMARY KEY (session_id, source, target, relation)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_source
    ON graph_edges (session_id, source);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS) and safe to call on
// every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlTurns(embeddingDimensions),
		ddlSnapshots(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
