// Package cvl implements causal verification of retrieval candidates: nodes
// that are merely similar to the query are kept only when the knowledge graph
// can connect their entities to the query's entities, and their scores decay
// with the length of that connection.
package cvl

import (
	"sort"

	"github.com/skalvenes/arbor/internal/ckg"
	"github.com/skalvenes/arbor/pkg/memory"
)

const (
	// DefaultMaxHops bounds the causal path search per candidate.
	DefaultMaxHops = 3

	// DefaultHopDecay is the per-hop score multiplier beyond the first hop.
	DefaultHopDecay = 0.8
)

// CausalGraph is the slice of the knowledge graph the verifier needs.
// *ckg.Graph satisfies it.
type CausalGraph interface {
	EntitiesForTurns(turnIDs []memory.TurnID) []memory.EntityID
	HasPath(sources, targets []memory.EntityID, maxHops int) (ckg.Path, bool)
}

// NodeSource resolves candidate node IDs to their flat records, so the
// verifier can map a candidate to the turns it owns. *rsm.Tree satisfies it.
type NodeSource interface {
	Node(id memory.NodeID) (memory.TreeNode, bool)
}

// Verifier re-scores and filters retrieval candidates against a causal graph.
type Verifier struct {
	maxHops  int
	hopDecay float64
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithMaxHops sets the path search bound. Non-positive values keep the
// default.
func WithMaxHops(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.maxHops = n
		}
	}
}

// WithHopDecay sets the per-hop score multiplier. Values outside (0, 1] keep
// the default.
func WithHopDecay(d float64) Option {
	return func(v *Verifier) {
		if d > 0 && d <= 1 {
			v.hopDecay = d
		}
	}
}

func New(opts ...Option) *Verifier {
	v := &Verifier{maxHops: DefaultMaxHops, hopDecay: DefaultHopDecay}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify filters candidates to those causally connected to the query
// entities and sets PathLength, Path, and FinalScore on the survivors.
// The result is re-sorted by FinalScore descending, node ID ascending.
//
// Two degradations keep retrieval useful when causal signal is missing:
// with no query entities (nothing extracted, or the extractor is down)
// every candidate passes with FinalScore equal to Similarity, and the same
// applies when graph is nil.
func (v *Verifier) Verify(graph CausalGraph, nodes NodeSource, queryEntities []memory.EntityID, candidates []memory.RetrievalCandidate) []memory.RetrievalCandidate {
	out := make([]memory.RetrievalCandidate, 0, len(candidates))

	if len(queryEntities) == 0 || graph == nil {
		for _, c := range candidates {
			c.FinalScore = c.Similarity
			out = append(out, c)
		}
		sortByScore(out)
		return out
	}

	for _, c := range candidates {
		node, ok := nodes.Node(c.NodeID)
		if !ok {
			continue
		}
		candEntities := graph.EntitiesForTurns(node.OwnedTurns)
		if len(candEntities) == 0 {
			// Nothing known about this node's turns, so no path can
			// exist; the hard filter drops it.
			continue
		}
		path, ok := graph.HasPath(queryEntities, candEntities, v.maxHops)
		if !ok {
			continue
		}
		c.PathLength = path.Length
		c.Path = path.Entities
		c.FinalScore = c.Similarity * v.pathWeight(path.Length)
		out = append(out, c)
	}

	sortByScore(out)
	return out
}

// pathWeight is hopDecay^(length-1): a shared entity or a direct edge keeps
// the full similarity, each further hop multiplies the score down.
func (v *Verifier) pathWeight(length int) float64 {
	w := 1.0
	for i := 1; i < length; i++ {
		w *= v.hopDecay
	}
	return w
}

func sortByScore(cands []memory.RetrievalCandidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].FinalScore != cands[j].FinalScore {
			return cands[i].FinalScore > cands[j].FinalScore
		}
		return cands[i].NodeID < cands[j].NodeID
	})
}
