// Package rsm implements the Renormalization State Manager: a self-balancing
// tree of conversation turns that periodically coarse-grains semantically
// redundant sibling subtrees into compact summary nodes.
//
// The tree is an arena of nodes addressed by stable [memory.NodeID] values —
// explicit parent/child ID fields, never raw pointers between nodes — so
// merges are simple re-parenting operations and the structure stays
// cycle-free. Nodes are never deleted; a merge creates a new summary node
// and moves the merged pair underneath it, which preserves the full
// coarse-graining history for auditing.
//
// New leaves enter at the root frontier; all hierarchy is built bottom-up by
// merge evaluation, so under a clustered embedding stream the tree height
// grows logarithmically with turn count rather than linearly.
//
// A [Tree] is safe for concurrent use: Insert and SetSummaryText take an
// exclusive lock, Retrieve and the read accessors take a shared lock.
package rsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skalvenes/arbor/pkg/memory"
)

// Default tuning values. Lambda follows the 0.90 operating point; the source
// material also mentions 0.40, but 0.90 keeps recent turns granular and only
// folds genuinely redundant material.
const (
	DefaultLambda           = 0.90
	DefaultDescentThreshold = 0.35
)

// Config tunes a [Tree]. The zero value is usable: defaults are applied by
// [New].
type Config struct {
	// Lambda is the merge threshold: a sibling pair whose centroid
	// similarity exceeds Lambda is coarse-grained into a summary node.
	// Default 0.90.
	Lambda float64

	// DescentThreshold is the retrieval descent threshold: traversal only
	// expands a summary node whose centroid similarity to the query exceeds
	// it. Default 0.35.
	DescentThreshold float64

	// MaxNodes caps the arena size. Zero means unbounded. When the cap is
	// reached Insert fails with [CapacityError]; merge evaluation stops
	// creating summary nodes one short of the cap.
	MaxNodes int

	// Oracle scores centroid similarity. Defaults to [CosineOracle].
	Oracle Oracle
}

// MergeEvent describes one coarse-graining step performed during an insert.
// The caller is responsible for producing the summary text (an external
// collaborator decides how to phrase it) and delivering it back via
// [Tree.SetSummaryText]; the tree only decides when to summarise.
type MergeEvent struct {
	// Summary is the newly created summary node.
	Summary memory.NodeID

	// Children are the two merged siblings, in chronological order.
	Children []memory.NodeID

	// OwnedTurns is the union of turns owned by the new summary node.
	OwnedTurns []memory.TurnID
}

// node is the arena representation of a tree node. Only IDs cross its
// boundary; callers see [memory.TreeNode] snapshots.
type node struct {
	id        memory.NodeID
	kind      memory.NodeKind
	owned     []memory.TurnID
	centroid  []float32
	summary   string
	children  []memory.NodeID
	parent    memory.NodeID
	depth     int
	createdAt time.Time
}

// Tree is the renormalization state for a single conversation session.
type Tree struct {
	cfg Config

	mu       sync.RWMutex
	nodes    []*node
	lastLeaf memory.NodeID
}

// rootID is the arena index of the synthetic root node.
const rootID memory.NodeID = 0

// New creates an empty tree. Zero-value config fields are replaced with
// defaults.
func New(cfg Config) *Tree {
	if cfg.Lambda <= 0 {
		cfg.Lambda = DefaultLambda
	}
	if cfg.DescentThreshold <= 0 {
		cfg.DescentThreshold = DefaultDescentThreshold
	}
	if cfg.Oracle == nil {
		cfg.Oracle = CosineOracle{}
	}
	t := &Tree{cfg: cfg, lastLeaf: memory.NoNode}
	t.nodes = append(t.nodes, &node{
		id:        rootID,
		kind:      memory.KindRoot,
		parent:    memory.NoNode,
		createdAt: time.Now().UTC(),
	})
	return t
}

// Insert creates a leaf for turn, attaches it to the active frontier, and
// runs merge evaluation on the modified branch. It returns the new leaf's ID
// together with any merge events the insert triggered.
//
// Insert fails with [CapacityError] when the configured node cap is reached;
// since nodes are never deleted, no merge can free capacity and the caller
// must archive or re-seed the session. An oracle failure aborts merge
// evaluation (the leaf itself stays inserted) and is reported wrapped.
func (t *Tree) Insert(ctx context.Context, turn memory.Turn) (memory.NodeID, []MergeEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.MaxNodes > 0 && len(t.nodes) >= t.cfg.MaxNodes {
		return memory.NoNode, nil, &CapacityError{Nodes: len(t.nodes), Max: t.cfg.MaxNodes}
	}

	leaf := &node{
		id:        memory.NodeID(len(t.nodes)),
		kind:      memory.KindLeaf,
		owned:     []memory.TurnID{turn.ID},
		centroid:  cloneVec(turn.Embedding),
		parent:    rootID,
		depth:     1,
		createdAt: time.Now().UTC(),
	}
	t.nodes = append(t.nodes, leaf)
	root := t.nodes[rootID]
	root.children = append(root.children, leaf.id)
	t.lastLeaf = leaf.id

	events, err := t.evaluateMerges(ctx, rootID)
	if err != nil {
		return leaf.id, events, err
	}
	return leaf.id, events, nil
}

// evaluateMerges repeatedly merges the most similar sibling pair under
// parentID until no pair exceeds Lambda. Because a fresh summary is
// re-scored against its new siblings on the next iteration, a merge cascades
// naturally when the coarse-grained node is itself redundant. Running this
// on a tree already at a fixed point is a no-op.
//
// Must be called with t.mu held for writing.
func (t *Tree) evaluateMerges(ctx context.Context, parentID memory.NodeID) ([]MergeEvent, error) {
	var events []MergeEvent
	for {
		if t.cfg.MaxNodes > 0 && len(t.nodes) >= t.cfg.MaxNodes {
			break
		}
		parent := t.nodes[parentID]
		if len(parent.children) < 2 {
			break
		}

		bestI, bestJ := -1, -1
		bestSim := -1.0
		for i := 0; i < len(parent.children); i++ {
			for j := i + 1; j < len(parent.children); j++ {
				a, b := t.nodes[parent.children[i]], t.nodes[parent.children[j]]
				sim, err := t.cfg.Oracle.Similarity(ctx, a.centroid, b.centroid)
				if err != nil {
					return events, fmt.Errorf("rsm: merge evaluation: %w", err)
				}
				if t.pairBeats(sim, a, b, bestSim, bestI, bestJ, parent) {
					bestSim, bestI, bestJ = sim, i, j
				}
			}
		}

		if bestI < 0 || bestSim <= t.cfg.Lambda {
			break
		}

		ev, err := t.merge(parent, bestI, bestJ)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// pairBeats reports whether the candidate pair (a, b) with similarity sim
// should replace the current best. Equal similarities prefer the pair with
// the lower combined depth (merge shallower, older material first, keeping
// recent turns granular); remaining ties go to the older pair.
func (t *Tree) pairBeats(sim float64, a, b *node, bestSim float64, bestI, bestJ int, parent *node) bool {
	if bestI < 0 || sim > bestSim {
		return true
	}
	if sim < bestSim {
		return false
	}
	prevA, prevB := t.nodes[parent.children[bestI]], t.nodes[parent.children[bestJ]]
	if d, prev := a.depth+b.depth, prevA.depth+prevB.depth; d != prev {
		return d < prev
	}
	older := minTime(a.createdAt, b.createdAt)
	prevOlder := minTime(prevA.createdAt, prevB.createdAt)
	return older.Before(prevOlder)
}

// merge coarse-grains parent.children[i] and parent.children[j] into a new
// summary node. The structural invariants of both children are verified
// first; any violation aborts the merge with [InconsistencyError] before the
// tree is mutated.
//
// Must be called with t.mu held for writing.
func (t *Tree) merge(parent *node, i, j int) (MergeEvent, error) {
	a, b := t.nodes[parent.children[i]], t.nodes[parent.children[j]]
	if b.createdAt.Before(a.createdAt) {
		a, b = b, a
		i, j = j, i
	}

	for _, n := range []*node{a, b} {
		if err := t.verifyNode(n); err != nil {
			return MergeEvent{}, err
		}
	}
	if overlaps(a.owned, b.owned) {
		return MergeEvent{}, &InconsistencyError{
			Node:   int64(parent.id),
			Detail: fmt.Sprintf("siblings %d and %d own overlapping turn sets", a.id, b.id),
		}
	}

	owned := make([]memory.TurnID, 0, len(a.owned)+len(b.owned))
	owned = append(owned, a.owned...)
	owned = append(owned, b.owned...)

	s := &node{
		id:        memory.NodeID(len(t.nodes)),
		kind:      memory.KindSummary,
		owned:     owned,
		centroid:  weightedCentroid(a.centroid, len(a.owned), b.centroid, len(b.owned)),
		children:  []memory.NodeID{a.id, b.id},
		parent:    parent.id,
		depth:     parent.depth + 1,
		createdAt: time.Now().UTC(),
	}
	t.nodes = append(t.nodes, s)

	// Replace the pair with the summary at the earlier child's position.
	pos := i
	if j < i {
		pos = j
	}
	rebuilt := make([]memory.NodeID, 0, len(parent.children)-1)
	for idx, id := range parent.children {
		if idx == pos {
			rebuilt = append(rebuilt, s.id)
		}
		if idx == i || idx == j {
			continue
		}
		rebuilt = append(rebuilt, id)
	}
	parent.children = rebuilt

	a.parent, b.parent = s.id, s.id
	t.deepen(a)
	t.deepen(b)

	return MergeEvent{
		Summary:    s.id,
		Children:   []memory.NodeID{a.id, b.id},
		OwnedTurns: append([]memory.TurnID(nil), owned...),
	}, nil
}

// deepen pushes a re-parented subtree one level down.
func (t *Tree) deepen(n *node) {
	n.depth++
	for _, c := range n.children {
		t.deepen(t.nodes[c])
	}
}

// verifyNode checks the structural invariants of a single node: a leaf owns
// exactly one turn and has no children; a summary owns exactly the union of
// its children's turn sets.
func (t *Tree) verifyNode(n *node) error {
	switch n.kind {
	case memory.KindLeaf:
		if len(n.children) != 0 || len(n.owned) != 1 {
			return &InconsistencyError{Node: int64(n.id), Detail: "leaf must own one turn and have no children"}
		}
	case memory.KindSummary:
		if len(n.children) < 2 {
			return &InconsistencyError{Node: int64(n.id), Detail: "summary must have at least two children"}
		}
		union := make(map[memory.TurnID]struct{})
		for _, c := range n.children {
			for _, id := range t.nodes[c].owned {
				union[id] = struct{}{}
			}
		}
		if len(union) != len(n.owned) {
			return &InconsistencyError{Node: int64(n.id), Detail: "owned-turn set does not match children union"}
		}
		for _, id := range n.owned {
			if _, ok := union[id]; !ok {
				return &InconsistencyError{Node: int64(n.id), Detail: fmt.Sprintf("turn %q missing from children union", id)}
			}
		}
	}
	return nil
}

// SetSummaryText delivers the externally produced summary text for a
// summary node created by a previous merge. Setting text on a non-summary
// node is an error.
func (t *Tree) SetSummaryText(id memory.NodeID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || int(id) >= len(t.nodes) {
		return fmt.Errorf("rsm: set summary text: node %d does not exist", id)
	}
	n := t.nodes[id]
	if n.kind != memory.KindSummary {
		return fmt.Errorf("rsm: set summary text: node %d is %s, not a summary", id, n.kind)
	}
	n.summary = text
	return nil
}

// Node returns a snapshot of the node with the given ID.
func (t *Tree) Node(id memory.NodeID) (memory.TreeNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if id < 0 || int(id) >= len(t.nodes) {
		return memory.TreeNode{}, false
	}
	return t.export(t.nodes[id]), true
}

// NodeCount returns the arena size, including the root.
func (t *Tree) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// TurnCount returns the number of turns inserted so far.
func (t *Tree) TurnCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, n := range t.nodes {
		if n.kind == memory.KindLeaf {
			count++
		}
	}
	return count
}

// Height returns the maximum node depth.
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	max := 0
	for _, n := range t.nodes {
		if n.depth > max {
			max = n.depth
		}
	}
	return max
}

// RootChildren returns the IDs of the top-level branches, in order.
func (t *Tree) RootChildren() []memory.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]memory.NodeID(nil), t.nodes[rootID].children...)
}

// RootOwnedTurns returns the union of turn IDs owned by the root's
// children, i.e. every turn currently accounted for by the tree.
func (t *Tree) RootOwnedTurns() []memory.TurnID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var owned []memory.TurnID
	for _, c := range t.nodes[rootID].children {
		owned = append(owned, t.nodes[c].owned...)
	}
	return owned
}

// Snapshot exports the full arena as a flat node list suitable for a
// [memory.SnapshotStore].
func (t *Tree) Snapshot() []memory.TreeNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]memory.TreeNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, t.export(n))
	}
	return out
}

// Restore replaces the tree's arena with a previously exported snapshot.
// The node list must be arena-ordered (IDs equal to their index, root
// first), which is what [Tree.Snapshot] produces.
func (t *Tree) Restore(nodes []memory.TreeNode) error {
	if len(nodes) == 0 || nodes[0].Kind != memory.KindRoot {
		return fmt.Errorf("rsm: restore: snapshot must start with the root node")
	}
	arena := make([]*node, 0, len(nodes))
	lastLeaf := memory.NoNode
	var lastLeafAt time.Time
	for i, tn := range nodes {
		if tn.ID != memory.NodeID(i) {
			return fmt.Errorf("rsm: restore: node %d out of arena order (index %d)", tn.ID, i)
		}
		n := &node{
			id:        tn.ID,
			kind:      tn.Kind,
			owned:     append([]memory.TurnID(nil), tn.OwnedTurns...),
			centroid:  cloneVec(tn.Centroid),
			summary:   tn.SummaryText,
			children:  append([]memory.NodeID(nil), tn.Children...),
			parent:    tn.Parent,
			depth:     tn.Depth,
			createdAt: tn.CreatedAt,
		}
		arena = append(arena, n)
		if n.kind == memory.KindLeaf && (lastLeaf == memory.NoNode || n.createdAt.After(lastLeafAt)) {
			lastLeaf = n.id
			lastLeafAt = n.createdAt
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = arena
	t.lastLeaf = lastLeaf
	return nil
}

// export converts an arena node to its snapshot form.
// Must be called with t.mu held.
func (t *Tree) export(n *node) memory.TreeNode {
	return memory.TreeNode{
		ID:          n.id,
		Kind:        n.kind,
		OwnedTurns:  append([]memory.TurnID(nil), n.owned...),
		Centroid:    cloneVec(n.centroid),
		SummaryText: n.summary,
		Children:    append([]memory.NodeID(nil), n.children...),
		Parent:      n.parent,
		Depth:       n.depth,
		CreatedAt:   n.createdAt,
	}
}

// weightedCentroid computes (n1*c1 + n2*c2) / (n1+n2), keeping the centroid
// an approximation of the mean embedding over all owned turns.
func weightedCentroid(c1 []float32, n1 int, c2 []float32, n2 int) []float32 {
	if len(c1) != len(c2) {
		// Mismatched dimensions should never happen with a single embedding
		// model; fall back to the larger subtree's centroid.
		if n2 > n1 {
			return cloneVec(c2)
		}
		return cloneVec(c1)
	}
	total := float32(n1 + n2)
	out := make([]float32, len(c1))
	for i := range c1 {
		out[i] = (float32(n1)*c1[i] + float32(n2)*c2[i]) / total
	}
	return out
}

func cloneVec(v []float32) []float32 {
	return append([]float32(nil), v...)
}

func overlaps(a, b []memory.TurnID) bool {
	set := make(map[memory.TurnID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
