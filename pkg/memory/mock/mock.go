// Package mock provides test doubles for the memory store interfaces.
//
// TurnStore wraps an in-memory store with configurable error injection so
// callers can exercise degraded-storage paths without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/skalvenes/arbor/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.TurnStore     = (*TurnStore)(nil)
	_ memory.SnapshotStore = (*SnapshotStore)(nil)
)

// TurnStore is a mock implementation of [memory.TurnStore]. Unless an error
// is injected, calls are delegated to an embedded in-memory store.
type TurnStore struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by every Append call.
	AppendErr error

	// GetErr, if non-nil, is returned by every Get and Turns call.
	GetErr error

	// AppendCalls counts Append invocations, including failed ones.
	AppendCalls int

	backing *memory.MemTurnStore
}

// NewTurnStore creates a mock turn store backed by an empty in-memory store.
func NewTurnStore() *TurnStore {
	return &TurnStore{backing: memory.NewMemTurnStore()}
}

func (s *TurnStore) Append(ctx context.Context, sessionID string, turn memory.Turn) error {
	s.mu.Lock()
	s.AppendCalls++
	err := s.AppendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.backing.Append(ctx, sessionID, turn)
}

func (s *TurnStore) Get(ctx context.Context, sessionID string, id memory.TurnID) (*memory.Turn, error) {
	s.mu.Lock()
	err := s.GetErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.backing.Get(ctx, sessionID, id)
}

func (s *TurnStore) Turns(ctx context.Context, sessionID string, ids []memory.TurnID) ([]memory.Turn, error) {
	s.mu.Lock()
	err := s.GetErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.backing.Turns(ctx, sessionID, ids)
}

func (s *TurnStore) Count(ctx context.Context, sessionID string) (int, error) {
	return s.backing.Count(ctx, sessionID)
}

// SnapshotStore is an in-memory mock implementation of [memory.SnapshotStore]
// that records what was saved, for assertions.
type SnapshotStore struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by SaveTree and SaveGraph.
	SaveErr error

	trees    map[string][]memory.TreeNode
	entities map[string][]memory.Entity
	edges    map[string][]memory.CausalEdge
}

// NewSnapshotStore creates an empty mock snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		trees:    make(map[string][]memory.TreeNode),
		entities: make(map[string][]memory.Entity),
		edges:    make(map[string][]memory.CausalEdge),
	}
}

func (s *SnapshotStore) SaveTree(_ context.Context, sessionID string, nodes []memory.TreeNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	cp := make([]memory.TreeNode, len(nodes))
	copy(cp, nodes)
	s.trees[sessionID] = cp
	return nil
}

func (s *SnapshotStore) LoadTree(_ context.Context, sessionID string) ([]memory.TreeNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.trees[sessionID]
	cp := make([]memory.TreeNode, len(nodes))
	copy(cp, nodes)
	return cp, nil
}

func (s *SnapshotStore) SaveGraph(_ context.Context, sessionID string, entities []memory.Entity, edges []memory.CausalEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	ents := make([]memory.Entity, len(entities))
	copy(ents, entities)
	egs := make([]memory.CausalEdge, len(edges))
	copy(egs, edges)
	s.entities[sessionID] = ents
	s.edges[sessionID] = egs
	return nil
}

func (s *SnapshotStore) LoadGraph(_ context.Context, sessionID string) ([]memory.Entity, []memory.CausalEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ents := make([]memory.Entity, len(s.entities[sessionID]))
	copy(ents, s.entities[sessionID])
	egs := make([]memory.CausalEdge, len(s.edges[sessionID]))
	copy(egs, s.edges[sessionID])
	return ents, egs, nil
}
