package ckg

import (
	"sort"

	"github.com/skalvenes/arbor/pkg/memory"
)

// DefaultMaxHops bounds path search when the caller passes a non-positive
// hop limit.
const DefaultMaxHops = 3

// Path is the causal justification connecting a query entity to a candidate
// entity. Edges may be traversed in either direction: "A causes B" and
// "B is caused by A" are equally valid evidence.
type Path struct {
	// Entities is the node sequence from a source to a target, inclusive.
	Entities []memory.EntityID

	// Length is the number of edges, i.e. len(Entities)-1. Zero when a
	// query entity is itself a candidate entity.
	Length int

	// MinConfidence is the weakest edge confidence along the path; 1 for a
	// zero-length path.
	MinConfidence float64
}

// pathState is the best-known way to reach a node at the current search
// depth.
type pathState struct {
	minConf float64
	trail   []memory.EntityID
}

// HasPath performs a bounded breadth-first search from sources to targets,
// following edges in both directions, and returns the shortest connecting
// path within maxHops. Among equal-length paths the one with the highest
// minimum edge confidence wins; remaining ties go to the lexicographically
// smallest entity sequence, so results are fully deterministic.
//
// The second return value is false when the targets are unreachable within
// the hop bound — the expected, common outcome, not an error.
func (g *Graph) HasPath(sources, targets []memory.EntityID, maxHops int) (Path, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if len(sources) == 0 || len(targets) == 0 {
		return Path{}, false
	}

	targetSet := make(map[memory.EntityID]struct{}, len(targets))
	for _, id := range targets {
		targetSet[id] = struct{}{}
	}

	// Depth 0: a shared entity is its own justification.
	frontier := make(map[memory.EntityID]pathState)
	visited := make(map[memory.EntityID]struct{})
	var zeroHits []memory.EntityID
	for _, src := range sources {
		if _, ok := g.entities[src]; !ok {
			continue
		}
		if _, seen := visited[src]; seen {
			continue
		}
		visited[src] = struct{}{}
		frontier[src] = pathState{minConf: 1, trail: []memory.EntityID{src}}
		if _, hit := targetSet[src]; hit {
			zeroHits = append(zeroHits, src)
		}
	}
	if len(zeroHits) > 0 {
		sort.Slice(zeroHits, func(i, j int) bool { return zeroHits[i] < zeroHits[j] })
		return Path{Entities: []memory.EntityID{zeroHits[0]}, Length: 0, MinConfidence: 1}, true
	}

	for depth := 1; depth <= maxHops; depth++ {
		next := make(map[memory.EntityID]pathState)
		for _, u := range sortedFrontier(frontier) {
			state := frontier[u]
			for _, step := range g.neighbors(u) {
				if _, seen := visited[step.to]; seen {
					continue
				}
				cand := pathState{
					minConf: min64(state.minConf, step.confidence),
					trail:   appendTrail(state.trail, step.to),
				}
				if prev, ok := next[step.to]; !ok || betterState(cand, prev) {
					next[step.to] = cand
				}
			}
		}
		if len(next) == 0 {
			return Path{}, false
		}

		var best *pathState
		for id, state := range next {
			visited[id] = struct{}{}
			if _, hit := targetSet[id]; hit {
				s := state
				if best == nil || betterState(s, *best) {
					best = &s
				}
			}
		}
		if best != nil {
			return Path{Entities: best.trail, Length: depth, MinConfidence: best.minConf}, true
		}
		frontier = next
	}
	return Path{}, false
}

func sortedFrontier(frontier map[memory.EntityID]pathState) []memory.EntityID {
	ids := make([]memory.EntityID, 0, len(frontier))
	for id := range frontier {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// step is a one-hop move along an edge, in either direction.
type step struct {
	to         memory.EntityID
	confidence float64
}

// neighbors returns the deterministic, ordered set of one-hop moves from u.
// Parallel edges to the same neighbour are collapsed to the strongest one.
// Must be called with g.mu held.
func (g *Graph) neighbors(u memory.EntityID) []step {
	bestTo := make(map[memory.EntityID]float64)
	for _, key := range g.out[u] {
		e := g.edges[key]
		if e.Confidence > bestTo[e.Target] {
			bestTo[e.Target] = e.Confidence
		}
	}
	for _, key := range g.in[u] {
		e := g.edges[key]
		if e.Confidence > bestTo[e.Source] {
			bestTo[e.Source] = e.Confidence
		}
	}

	steps := make([]step, 0, len(bestTo))
	for to, conf := range bestTo {
		steps = append(steps, step{to: to, confidence: conf})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].to < steps[j].to })
	return steps
}

// betterState prefers the higher minimum confidence, then the
// lexicographically smaller trail.
func betterState(a, b pathState) bool {
	if a.minConf != b.minConf {
		return a.minConf > b.minConf
	}
	return lessTrail(a.trail, b.trail)
}

func lessTrail(a, b []memory.EntityID) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func appendTrail(trail []memory.EntityID, id memory.EntityID) []memory.EntityID {
	out := make([]memory.EntityID, len(trail)+1)
	copy(out, trail)
	out[len(trail)] = id
	return out
}

func min64(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}
