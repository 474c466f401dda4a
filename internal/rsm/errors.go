package rsm

import "fmt"

// CapacityError is returned by [Tree.Insert] when the configured maximum
// node count would be exceeded. Because the tree is append-only (merges
// re-parent nodes, they never delete them), no merge can free arena
// capacity; the error is the backpressure signal for the caller to force a
// session summary or archive the session.
type CapacityError struct {
	// Nodes is the current arena size.
	Nodes int

	// Max is the configured limit that was hit.
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("rsm: tree at capacity (%d of %d nodes); archive or re-seed the session", e.Nodes, e.Max)
}

// InconsistencyError reports a structural invariant violation detected
// during a merge (e.g. an owned-turn-set mismatch between a summary and its
// children). It is an unrecoverable internal-consistency fault: the merge
// that detected it was aborted before mutating the tree.
type InconsistencyError struct {
	Node   int64
	Detail string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("rsm: tree inconsistency at node %d: %s", e.Node, e.Detail)
}
