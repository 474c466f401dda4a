package memory

import "time"

// TurnID uniquely identifies a conversation turn within a session.
// Turn IDs are opaque; the default engine generates UUIDs.
type TurnID string

// NodeID addresses a node in the renormalization tree arena. Node IDs are
// stable for the lifetime of a session: nodes are never deleted, only
// re-parented during merges.
type NodeID int64

// NoNode is the zero NodeID sentinel used for "no parent".
const NoNode NodeID = -1

// EntityID identifies a canonical entity in the causal knowledge graph.
// It is derived deterministically from the entity's canonical name.
type EntityID string

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is an immutable record of a single conversational exchange half.
// Turns are created once per exchange and never mutated; tree nodes and
// graph edges reference them by ID, never by copy.
type Turn struct {
	// ID is the unique identifier for this turn.
	ID TurnID

	// Role is who spoke: user or assistant.
	Role Role

	// Text is the raw utterance text.
	Text string

	// Embedding is the vector representation of Text, produced by the
	// configured embeddings provider before the turn is stored.
	Embedding []float32

	// Timestamp is when this turn was recorded.
	Timestamp time.Time

	// Entities lists canonical entities mentioned in this turn. Reserved:
	// the engine keeps mentions in the graph's per-turn index instead,
	// because turns are immutable once appended while extraction completes
	// asynchronously. Stores persist the field for callers that build
	// turns by hand; the engine always writes it empty.
	Entities []EntityID
}

// NodeKind distinguishes leaf nodes (one owned turn) from summary nodes
// (coarse-grained merges of two or more subtrees).
type NodeKind string

const (
	// KindLeaf is a node created on turn insert. It has no children and
	// owns exactly one turn.
	KindLeaf NodeKind = "leaf"

	// KindSummary is a node created by merge evaluation. It has at least
	// two children and owns the union of its descendants' turns.
	KindSummary NodeKind = "summary"

	// KindRoot is the synthetic arena anchor. Exactly one exists per tree;
	// it owns no turns and is exempt from the leaf/summary invariants.
	KindRoot NodeKind = "root"
)

// TreeNode is the flat, serializable form of a renormalization-tree node,
// used for persistence snapshots. The live tree keeps its own arena
// representation; snapshots are a plain list of these records with
// parent/child IDs and no cross-session references.
type TreeNode struct {
	ID          NodeID    `json:"id"`
	Kind        NodeKind  `json:"kind"`
	OwnedTurns  []TurnID  `json:"owned_turns"`
	Centroid    []float32 `json:"centroid"`
	SummaryText string    `json:"summary_text,omitempty"`
	Children    []NodeID  `json:"children,omitempty"`
	Parent      NodeID    `json:"parent"`
	Depth       int       `json:"depth"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entity is a node in the causal knowledge graph: a canonical concept name
// plus the surface forms (aliases) it has been observed under.
type Entity struct {
	// ID is the stable identifier, derived from CanonicalName.
	ID EntityID

	// CanonicalName is the lower-cased, whitespace-normalised name.
	CanonicalName string

	// Aliases are alternative surface forms seen in conversation,
	// preserved with their original casing.
	Aliases []string
}

// CausalEdge is a directed, labelled edge between two entities. Edges are
// additive: re-observing the same (source, relation, target) strengthens
// Confidence and appends a supporting turn rather than duplicating the edge.
type CausalEdge struct {
	Source   EntityID `json:"source"`
	Target   EntityID `json:"target"`
	Relation string   `json:"relation"`

	// SupportingTurns records provenance: every turn in which this edge was
	// observed. A weak back-reference into the turn store — lookup only.
	SupportingTurns []TurnID `json:"supporting_turns"`

	// Confidence grows monotonically with repeated observations, in (0, 1].
	Confidence float64 `json:"confidence"`
}

// Triple is an (subject, relation, object) causal statement extracted from
// text by the entity/relation extractor, before canonicalization.
type Triple struct {
	Subject    string
	Relation   string
	Object     string
	Confidence float64
}

// RetrievalCandidate is the transient per-query record produced by tree
// retrieval and refined by causal verification. Never persisted.
type RetrievalCandidate struct {
	// NodeID is the tree node this candidate refers to.
	NodeID NodeID

	// Similarity is the cosine similarity between the query embedding and
	// the node's centroid, in [0, 1].
	Similarity float64

	// PathLength is the causal path length from the query entities to the
	// candidate's entities. Zero until causal verification runs; a direct
	// edge has length 1.
	PathLength int

	// Path is the entity sequence justifying PathLength, for explanations.
	Path []EntityID

	// FinalScore is Similarity times the causal weight. Equal to Similarity
	// until causal verification runs.
	FinalScore float64
}
