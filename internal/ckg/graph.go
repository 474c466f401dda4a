// Package ckg implements the Causal Knowledge Graph: a directed multigraph
// of canonical entities connected by labelled causal edges, accumulated from
// (subject, relation, object) triples extracted from conversation turns.
//
// Edges are additive. Re-observing a (source, relation, target) triple
// strengthens the existing edge's confidence and appends the observing turn
// to its provenance list instead of duplicating the edge. Nothing is ever
// deleted; forgetting is out of scope.
//
// Entity canonicalization is deterministic: names are lower-cased and
// whitespace-normalised, an alias table maps previously seen surface forms
// to their canonical entity, and an edit-distance-1 match against known
// canonical names (ties broken lexicographically) absorbs trivial
// misspellings without fuzzy scoring.
//
// A [Graph] is safe for concurrent use.
package ckg

import (
	"sort"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/skalvenes/arbor/pkg/memory"
)

// edgeKey is the deterministic upsert key for a causal edge.
type edgeKey struct {
	source   memory.EntityID
	target   memory.EntityID
	relation string
}

// Graph is the causal knowledge graph for a single conversation session.
type Graph struct {
	mu       sync.RWMutex
	entities map[memory.EntityID]*memory.Entity
	aliases  map[string]memory.EntityID
	edges    map[edgeKey]*memory.CausalEdge

	// Adjacency by entity, for path search in both directions.
	out map[memory.EntityID][]edgeKey
	in  map[memory.EntityID][]edgeKey

	// byTurn records which entities each turn mentioned, rebuilt from edge
	// provenance on restore. Lookup only — no lifetime obligation on the
	// turn store.
	byTurn map[memory.TurnID][]memory.EntityID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		entities: make(map[memory.EntityID]*memory.Entity),
		aliases:  make(map[string]memory.EntityID),
		edges:    make(map[edgeKey]*memory.CausalEdge),
		out:      make(map[memory.EntityID][]edgeKey),
		in:       make(map[memory.EntityID][]edgeKey),
		byTurn:   make(map[memory.TurnID][]memory.EntityID),
	}
}

// Ingest folds the extracted triples of one turn into the graph and returns
// the canonical entities the turn mentioned. Triples with an empty subject,
// relation, or object are skipped.
func (g *Graph) Ingest(turnID memory.TurnID, triples []memory.Triple) []memory.EntityID {
	g.mu.Lock()
	defer g.mu.Unlock()

	mentioned := make(map[memory.EntityID]struct{})
	for _, tr := range triples {
		subject := canonicalKey(tr.Subject)
		object := canonicalKey(tr.Object)
		relation := canonicalKey(tr.Relation)
		if subject == "" || object == "" || relation == "" {
			continue
		}

		src := g.upsertEntity(tr.Subject)
		dst := g.upsertEntity(tr.Object)
		mentioned[src] = struct{}{}
		mentioned[dst] = struct{}{}

		g.upsertEdge(src, dst, relation, turnID, tr.Confidence)
	}

	ids := sortedIDs(mentioned)
	if len(ids) > 0 {
		existing := g.byTurn[turnID]
		seen := make(map[memory.EntityID]struct{}, len(existing))
		for _, id := range existing {
			seen[id] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				existing = append(existing, id)
			}
		}
		g.byTurn[turnID] = existing
	}
	return ids
}

// upsertEntity resolves name to an existing entity or creates a new one,
// recording the surface form as an alias when it differs from the canonical
// name. Must be called with g.mu held for writing.
func (g *Graph) upsertEntity(name string) memory.EntityID {
	key := canonicalKey(name)
	id, ok := g.resolveLocked(key)
	if !ok {
		id = memory.EntityID(key)
		g.entities[id] = &memory.Entity{ID: id, CanonicalName: key}
		g.aliases[key] = id
	}

	ent := g.entities[id]
	surface := strings.TrimSpace(name)
	if surface != ent.CanonicalName && surface != "" {
		for _, a := range ent.Aliases {
			if a == surface {
				return id
			}
		}
		ent.Aliases = append(ent.Aliases, surface)
		g.aliases[canonicalKey(surface)] = id
	}
	return id
}

// upsertEdge strengthens an existing edge or creates a new one.
// Must be called with g.mu held for writing.
func (g *Graph) upsertEdge(src, dst memory.EntityID, relation string, turnID memory.TurnID, confidence float64) {
	if confidence <= 0 || confidence > 1 {
		confidence = defaultObservationConfidence
	}

	key := edgeKey{source: src, target: dst, relation: relation}
	edge, ok := g.edges[key]
	if !ok {
		edge = &memory.CausalEdge{
			Source:     src,
			Target:     dst,
			Relation:   relation,
			Confidence: confidence,
		}
		g.edges[key] = edge
		g.out[src] = append(g.out[src], key)
		g.in[dst] = append(g.in[dst], key)
	} else {
		// Each repeat observation closes part of the remaining gap to
		// certainty, so confidence grows monotonically and stays below 1.
		edge.Confidence += (1 - edge.Confidence) * confidence
	}

	for _, id := range edge.SupportingTurns {
		if id == turnID {
			return
		}
	}
	edge.SupportingTurns = append(edge.SupportingTurns, turnID)
}

// defaultObservationConfidence is assumed when the extractor reports no
// usable confidence for a triple.
const defaultObservationConfidence = 0.5

// Resolve maps a surface form to a canonical entity without mutating the
// graph. Returns false when the name is unknown.
func (g *Graph) Resolve(name string) (memory.EntityID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLocked(canonicalKey(name))
}

// resolveLocked resolves a canonical key via the alias table, falling back
// to a deterministic edit-distance-1 match over canonical names (ties to the
// lexicographically smallest). Must be called with g.mu held.
func (g *Graph) resolveLocked(key string) (memory.EntityID, bool) {
	if key == "" {
		return "", false
	}
	if id, ok := g.aliases[key]; ok {
		return id, true
	}

	// Near-miss absorption. Only names long enough that a single edit is
	// plausibly a typo rather than a different word.
	if len(key) < 4 {
		return "", false
	}
	var best memory.EntityID
	found := false
	for id, ent := range g.entities {
		if matchr.Levenshtein(key, ent.CanonicalName) == 1 {
			if !found || id < best {
				best = id
				found = true
			}
		}
	}
	return best, found
}

// EntitiesForTurns returns the union of canonical entities mentioned by the
// given turns, sorted.
func (g *Graph) EntitiesForTurns(turnIDs []memory.TurnID) []memory.EntityID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[memory.EntityID]struct{})
	for _, turnID := range turnIDs {
		for _, id := range g.byTurn[turnID] {
			set[id] = struct{}{}
		}
	}
	return sortedIDs(set)
}

// EntityCount returns the number of canonical entities in the graph.
func (g *Graph) EntityCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

// EdgeCount returns the number of distinct causal edges in the graph.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Edge returns a copy of the edge for (source, relation, target), if any.
func (g *Graph) Edge(source, target memory.EntityID, relation string) (memory.CausalEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.edges[edgeKey{source: source, target: target, relation: canonicalKey(relation)}]
	if !ok {
		return memory.CausalEdge{}, false
	}
	return copyEdge(e), true
}

// Snapshot exports the graph as flat entity and edge lists suitable for a
// [memory.SnapshotStore]. Both lists are deterministically ordered.
func (g *Graph) Snapshot() ([]memory.Entity, []memory.CausalEdge) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entities := make([]memory.Entity, 0, len(g.entities))
	for _, e := range g.entities {
		cp := *e
		cp.Aliases = append([]string(nil), e.Aliases...)
		entities = append(entities, cp)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	edges := make([]memory.CausalEdge, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, copyEdge(e))
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Relation < b.Relation
	})
	return entities, edges
}

// Restore replaces the graph's contents with a previously exported
// snapshot, rebuilding the alias table, adjacency, and turn index.
func (g *Graph) Restore(entities []memory.Entity, edges []memory.CausalEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entities = make(map[memory.EntityID]*memory.Entity, len(entities))
	g.aliases = make(map[string]memory.EntityID, len(entities))
	g.edges = make(map[edgeKey]*memory.CausalEdge, len(edges))
	g.out = make(map[memory.EntityID][]edgeKey)
	g.in = make(map[memory.EntityID][]edgeKey)
	g.byTurn = make(map[memory.TurnID][]memory.EntityID)

	for i := range entities {
		e := entities[i]
		cp := e
		cp.Aliases = append([]string(nil), e.Aliases...)
		g.entities[e.ID] = &cp
		g.aliases[e.CanonicalName] = e.ID
		for _, a := range e.Aliases {
			g.aliases[canonicalKey(a)] = e.ID
		}
	}

	turnSets := make(map[memory.TurnID]map[memory.EntityID]struct{})
	for i := range edges {
		e := copyEdgePtr(&edges[i])
		key := edgeKey{source: e.Source, target: e.Target, relation: e.Relation}
		g.edges[key] = e
		g.out[e.Source] = append(g.out[e.Source], key)
		g.in[e.Target] = append(g.in[e.Target], key)
		for _, turnID := range e.SupportingTurns {
			set, ok := turnSets[turnID]
			if !ok {
				set = make(map[memory.EntityID]struct{})
				turnSets[turnID] = set
			}
			set[e.Source] = struct{}{}
			set[e.Target] = struct{}{}
		}
	}
	for turnID, set := range turnSets {
		g.byTurn[turnID] = sortedIDs(set)
	}
}

// canonicalKey lower-cases and whitespace-normalises a surface form. A pure
// function: the same input always yields the same key, which keeps path
// queries deterministic and testable.
func canonicalKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func sortedIDs(set map[memory.EntityID]struct{}) []memory.EntityID {
	ids := make([]memory.EntityID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func copyEdge(e *memory.CausalEdge) memory.CausalEdge {
	cp := *e
	cp.SupportingTurns = append([]memory.TurnID(nil), e.SupportingTurns...)
	return cp
}

func copyEdgePtr(e *memory.CausalEdge) *memory.CausalEdge {
	cp := copyEdge(e)
	return &cp
}
