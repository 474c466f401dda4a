package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/skalvenes/arbor/pkg/memory"
)

// SaveTree implements [memory.SnapshotStore]. The stored snapshot is replaced
// wholesale inside a transaction so that readers never observe a partial tree.
func (s *Store) SaveTree(ctx context.Context, sessionID string, nodes []memory.TreeNode) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot store: save tree: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tree_nodes WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("snapshot store: save tree: clear: %w", err)
	}

	const q = `
		INSERT INTO tree_nodes
		    (session_id, id, kind, owned_turns, centroid, summary_text, children, parent, depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	batch := &pgx.Batch{}
	for _, n := range nodes {
		owned := n.OwnedTurns
		if owned == nil {
			owned = []memory.TurnID{}
		}
		children := n.Children
		if children == nil {
			children = []memory.NodeID{}
		}
		batch.Queue(q,
			sessionID,
			int64(n.ID),
			string(n.Kind),
			owned,
			embeddingValue(n.Centroid),
			n.SummaryText,
			children,
			int64(n.Parent),
			n.Depth,
			n.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("snapshot store: save tree: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("snapshot store: save tree: commit: %w", err)
	}
	return nil
}

// LoadTree implements [memory.SnapshotStore]. Returns an empty (non-nil)
// slice when no snapshot exists.
func (s *Store) LoadTree(ctx context.Context, sessionID string) ([]memory.TreeNode, error) {
	const q = `
		SELECT id, kind, owned_turns, centroid, summary_text, children, parent, depth, created_at
		FROM   tree_nodes
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: load tree: %w", err)
	}
	nodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TreeNode, error) {
		var (
			n        memory.TreeNode
			centroid *pgvector.Vector
		)
		if err := row.Scan(
			&n.ID,
			&n.Kind,
			&n.OwnedTurns,
			&centroid,
			&n.SummaryText,
			&n.Children,
			&n.Parent,
			&n.Depth,
			&n.CreatedAt,
		); err != nil {
			return memory.TreeNode{}, err
		}
		if centroid != nil {
			n.Centroid = centroid.Slice()
		}
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot store: load tree: scan: %w", err)
	}
	if nodes == nil {
		nodes = []memory.TreeNode{}
	}
	return nodes, nil
}

// SaveGraph implements [memory.SnapshotStore]. Entities and edges are
// replaced together in one transaction.
func (s *Store) SaveGraph(ctx context.Context, sessionID string, entities []memory.Entity, edges []memory.CausalEdge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot store: save graph: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM graph_edges WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("snapshot store: save graph: clear edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM graph_entities WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("snapshot store: save graph: clear entities: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range entities {
		aliases := e.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		batch.Queue(
			`INSERT INTO graph_entities (session_id, id, canonical_name, aliases) VALUES ($1, $2, $3, $4)`,
			sessionID, string(e.ID), e.CanonicalName, aliases,
		)
	}
	for _, e := range edges {
		supporting := e.SupportingTurns
		if supporting == nil {
			supporting = []memory.TurnID{}
		}
		batch.Queue(
			`INSERT INTO graph_edges (session_id, source, target, relation, supporting_turns, confidence)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, string(e.Source), string(e.Target), e.Relation, supporting, e.Confidence,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("snapshot store: save graph: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("snapshot store: save graph: commit: %w", err)
	}
	return nil
}

// LoadGraph implements [memory.SnapshotStore]. Returns empty (non-nil)
// slices when no snapshot exists.
func (s *Store) LoadGraph(ctx context.Context, sessionID string) ([]memory.Entity, []memory.CausalEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, canonical_name, aliases FROM graph_entities WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot store: load graph: entities: %w", err)
	}
	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entity, error) {
		var e memory.Entity
		err := row.Scan(&e.ID, &e.CanonicalName, &e.Aliases)
		return e, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot store: load graph: scan entities: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT source, target, relation, supporting_turns, confidence
		 FROM   graph_edges
		 WHERE  session_id = $1
		 ORDER  BY source, target, relation`,
		sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot store: load graph: edges: %w", err)
	}
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.CausalEdge, error) {
		var e memory.CausalEdge
		err := row.Scan(&e.Source, &e.Target, &e.Relation, &e.SupportingTurns, &e.Confidence)
		return e, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot store: load graph: scan edges: %w", err)
	}

	if entities == nil {
		entities = []memory.Entity{}
	}
	if edges == nil {
		edges = []memory.CausalEdge{}
	}
	return entities, edges, nil
}
