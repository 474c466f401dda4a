package memory

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time interface check.
var _ TurnStore = (*MemTurnStore)(nil)

// MemTurnStore is an in-memory [TurnStore]. It is the default backend for
// tests and for sessions that do not require persistence.
//
// Safe for concurrent use.
type MemTurnStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
}

type memSession struct {
	order []TurnID
	turns map[TurnID]Turn
}

// NewMemTurnStore creates an empty in-memory turn store.
func NewMemTurnStore() *MemTurnStore {
	return &MemTurnStore{sessions: make(map[string]*memSession)}
}

// Append implements [TurnStore].
func (s *MemTurnStore) Append(_ context.Context, sessionID string, turn Turn) error {
	if sessionID == "" {
		return fmt.Errorf("turn store: session id must not be empty")
	}
	if turn.ID == "" {
		return fmt.Errorf("turn store: turn id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memSession{turns: make(map[TurnID]Turn)}
		s.sessions[sessionID] = sess
	}
	if _, exists := sess.turns[turn.ID]; exists {
		return fmt.Errorf("turn store: turn %q already exists in session %q", turn.ID, sessionID)
	}
	sess.order = append(sess.order, turn.ID)
	sess.turns[turn.ID] = turn
	return nil
}

// Get implements [TurnStore]. Returns (nil, nil) when the turn is unknown.
func (s *MemTurnStore) Get(_ context.Context, sessionID string, id TurnID) (*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	t, ok := sess.turns[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// Turns implements [TurnStore]. Unknown IDs are skipped.
func (s *MemTurnStore) Turns(_ context.Context, sessionID string, ids []TurnID) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Turn, 0, len(ids))
	sess, ok := s.sessions[sessionID]
	if !ok {
		return result, nil
	}
	for _, id := range ids {
		if t, ok := sess.turns[id]; ok {
			result = append(result, t)
		}
	}
	return result, nil
}

// Count implements [TurnStore].
func (s *MemTurnStore) Count(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, nil
	}
	return len(sess.order), nil
}
