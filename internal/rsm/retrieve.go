package rsm

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"github.com/skalvenes/arbor/pkg/memory"
)

// Retrieve performs a best-first traversal from the root and returns at most
// k candidates, sorted descending by similarity to the query embedding.
//
// At each step the highest-scoring frontier node is examined: a summary
// whose score exceeds the descent threshold is expanded (its children join
// the frontier, each scored against the query); anything else — every leaf,
// and any summary too dissimilar to be worth opening — becomes a terminal
// candidate. The traversal therefore mixes fine-grained recent leaves with
// coarse summaries of older material, and touches O(k·log n) nodes on a
// balanced tree.
//
// Retrieve holds a shared lock for its duration, so it never observes a
// half-applied merge. An oracle failure aborts the traversal.
func (t *Tree) Retrieve(ctx context.Context, query []float32, k int) ([]memory.RetrievalCandidate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	candidates := []memory.RetrievalCandidate{}
	if k <= 0 {
		return candidates, nil
	}

	frontier := &scoredHeap{}
	if err := t.pushChildren(ctx, frontier, rootID, query); err != nil {
		return nil, err
	}

	for frontier.Len() > 0 && len(candidates) < k {
		top := heap.Pop(frontier).(scoredNode)
		n := t.nodes[top.id]

		if n.kind == memory.KindSummary && top.sim > t.cfg.DescentThreshold {
			if err := t.pushChildren(ctx, frontier, n.id, query); err != nil {
				return nil, err
			}
			continue
		}

		candidates = append(candidates, memory.RetrievalCandidate{
			NodeID:     n.id,
			Similarity: top.sim,
			FinalScore: top.sim,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].NodeID < candidates[j].NodeID
	})
	return candidates, nil
}

// pushChildren scores every child of parentID against the query and adds
// them to the frontier.
// Must be called with t.mu held.
func (t *Tree) pushChildren(ctx context.Context, frontier *scoredHeap, parentID memory.NodeID, query []float32) error {
	for _, c := range t.nodes[parentID].children {
		sim, err := t.cfg.Oracle.Similarity(ctx, query, t.nodes[c].centroid)
		if err != nil {
			return fmt.Errorf("rsm: retrieve: %w", err)
		}
		heap.Push(frontier, scoredNode{id: c, sim: sim})
	}
	return nil
}

// scoredNode pairs a frontier node with its query similarity.
type scoredNode struct {
	id  memory.NodeID
	sim float64
}

// scoredHeap is a max-heap of scored nodes; equal scores pop the older
// (lower-ID) node first for determinism.
type scoredHeap []scoredNode

func (h scoredHeap) Len() int { return len(h) }

func (h scoredHeap) Less(i, j int) bool {
	if h[i].sim != h[j].sim {
		return h[i].sim > h[j].sim
	}
	return h[i].id < h[j].id
}

func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap) Push(x any) { *h = append(*h, x.(scoredNode)) }

func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
