package memory

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ SnapshotStore = (*MemSnapshotStore)(nil)

// MemSnapshotStore is an in-memory [SnapshotStore]. Snapshots survive only
// for the lifetime of the process; it exists for tests and for deployments
// that accept losing tree and graph state on restart.
//
// Safe for concurrent use.
type MemSnapshotStore struct {
	mu     sync.RWMutex
	trees  map[string][]TreeNode
	graphs map[string]graphSnapshot
}

type graphSnapshot struct {
	entities []Entity
	edges    []CausalEdge
}

// NewMemSnapshotStore creates an empty in-memory snapshot store.
func NewMemSnapshotStore() *MemSnapshotStore {
	return &MemSnapshotStore{
		trees:  make(map[string][]TreeNode),
		graphs: make(map[string]graphSnapshot),
	}
}

// SaveTree implements [SnapshotStore].
func (s *MemSnapshotStore) SaveTree(_ context.Context, sessionID string, nodes []TreeNode) error {
	cp := make([]TreeNode, len(nodes))
	copy(cp, nodes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[sessionID] = cp
	return nil
}

// LoadTree implements [SnapshotStore].
func (s *MemSnapshotStore) LoadTree(_ context.Context, sessionID string) ([]TreeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.trees[sessionID]
	cp := make([]TreeNode, len(nodes))
	copy(cp, nodes)
	return cp, nil
}

// SaveGraph implements [SnapshotStore].
func (s *MemSnapshotStore) SaveGraph(_ context.Context, sessionID string, entities []Entity, edges []CausalEdge) error {
	snap := graphSnapshot{
		entities: make([]Entity, len(entities)),
		edges:    make([]CausalEdge, len(edges)),
	}
	copy(snap.entities, entities)
	copy(snap.edges, edges)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[sessionID] = snap
	return nil
}

// LoadGraph implements [SnapshotStore].
func (s *MemSnapshotStore) LoadGraph(_ context.Context, sessionID string) ([]Entity, []CausalEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.graphs[sessionID]
	entities := make([]Entity, len(snap.entities))
	copy(entities, snap.entities)
	edges := make([]CausalEdge, len(snap.edges))
	copy(edges, snap.edges)
	return entities, edges, nil
}
