// Package memory defines the storage contracts of the Arbor conversation
// context manager.
//
// Two stores back the engine:
//
//   - Turn Store ([TurnStore]): the append-only source of truth for raw
//     conversation turns. It exclusively owns [Turn] records; the tree and
//     the causal graph hold only identifiers into it.
//   - Snapshot Store ([SnapshotStore]): optional persistence for the
//     renormalization tree and the causal graph, one snapshot of each per
//     session, serialised as flat node/edge lists.
//
// All interfaces are public so that external packages can supply alternative
// backends (PostgreSQL/pgvector, SQLite, in-memory, …) without depending on
// arbor internals.
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// TurnStore is the append-only record of raw conversation turns. It owns
// turn identity and ordering; entries are immutable once written.
//
// Implementations must be safe for concurrent use.
type TurnStore interface {
	// Append stores a new turn for the given session. sessionID and
	// turn.ID must be non-empty. Appending a turn whose ID already exists
	// in the session is an error.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Get retrieves a single turn by ID. Returns (nil, nil) when the turn
	// does not exist.
	Get(ctx context.Context, sessionID string, id TurnID) (*Turn, error)

	// Turns retrieves a batch of turns by ID, in the order requested.
	// Unknown IDs are skipped; the result may be shorter than ids.
	Turns(ctx context.Context, sessionID string, ids []TurnID) ([]Turn, error)

	// Count returns the number of turns stored for the session.
	Count(ctx context.Context, sessionID string) (int, error)
}

// SnapshotStore persists per-session snapshots of the renormalization tree
// and the causal knowledge graph. Snapshots are keyed by session ID and
// carry no cross-session references.
//
// Implementations must be safe for concurrent use.
type SnapshotStore interface {
	// SaveTree replaces the stored tree snapshot for the session with the
	// given flat node list.
	SaveTree(ctx context.Context, sessionID string, nodes []TreeNode) error

	// LoadTree returns the stored tree snapshot, or an empty (non-nil)
	// slice when no snapshot exists.
	LoadTree(ctx context.Context, sessionID string) ([]TreeNode, error)

	// SaveGraph replaces the stored graph snapshot for the session.
	SaveGraph(ctx context.Context, sessionID string, entities []Entity, edges []CausalEdge) error

	// LoadGraph returns the stored graph snapshot, or empty (non-nil)
	// slices when no snapshot exists.
	LoadGraph(ctx context.Context, sessionID string) ([]Entity, []CausalEdge, error)
}
