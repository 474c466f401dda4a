package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/skalvenes/arbor/pkg/memory"
)

// Append implements [memory.TurnStore]. Appending a turn whose ID already
// exists in the session is an error, matching the append-only contract.
func (s *Store) Append(ctx context.Context, sessionID string, turn memory.Turn) error {
	if sessionID == "" {
		return fmt.Errorf("turn store: session id must not be empty")
	}
	if turn.ID == "" {
		return fmt.Errorf("turn store: turn id must not be empty")
	}

	const q = `
		INSERT INTO turns (session_id, id, role, text, embedding, timestamp, entities)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	// The entities column is reserved (see memory.Turn); the engine writes
	// it empty and keeps mentions in the graph snapshot instead.
	entities := turn.Entities
	if entities == nil {
		entities = []memory.EntityID{}
	}
	_, err := s.pool.Exec(ctx, q,
		sessionID,
		string(turn.ID),
		string(turn.Role),
		turn.Text,
		embeddingValue(turn.Embedding),
		turn.Timestamp,
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
	const q = `
		SELECT id, role, text, embedding, timestamp, entities
		FROM   turns
		WHERE  session_id = $1 AND id = $2`

	rows, err := s.pool.Query(ctx, q, sessionID, string(id))
	if err != nil {
		return nil, fmt.Errorf("turn store: get %q: %w", id, err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, nil
	}
	return &turns[0], nil
}

// Turns implements [memory.TurnStore]. Unknown IDs are skipped; the result
// preserves the order of ids, not insertion order.
func (s *Store) Turns(ctx context.Context, sessionID string, ids []memory.TurnID) ([]memory.Turn, error) {
	result := make([]memory.Turn, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	const q = `
		SELECT id, role, text, embedding, timestamp, entities
		FROM   turns
		WHERE  session_id = $1 AND id = ANY($2)`

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}
	rows, err := s.pool.Query(ctx, q, sessionID, strIDs)
	if err != nil {
		return nil, fmt.Errorf("turn store: batch get: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[memory.TurnID]memory.Turn, len(turns))
	for _, t := range turns {
		byID[t.ID] = t
	}
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			result = append(result, t)
		}
	}
	return result, nil
}

// Count implements [memory.TurnStore].
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	const q = `SELECT count(*) FROM turns WHERE session_id = $1`

	var n int
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("turn store: count: %w", err)
	}
	return n, nil
}

// embeddingValue converts a float32 slice to a nullable pgvector value.
func embeddingValue(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// collectTurns scans pgx rows into a slice of Turn values.
func collectTurns(rows pgx.Rows) ([]memory.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var (
			t         memory.Turn
			embedding *pgvector.Vector
		)
		if err := row.Scan(
			&t.ID,
			&t.Role,
			&t.Text,
			&embedding,
			&t.Timestamp,
			&t.Entities,
		); err != nil {
			return memory.Turn{}, err
		}
		if embedding != nil {
			t.Embedding = embedding.Slice()
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("turn store: scan rows: %w", err)
	}
	return turns, nil
}
