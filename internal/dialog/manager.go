package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/skalvenes/arbor/pkg/memory"
)

// ErrSessionNotFound is returned when an operation names a session the
// manager does not hold.
var ErrSessionNotFound = errors.New("dialog: session not found")

// Manager is the session registry and the inbound API of the engine.
// Sessions share the manager's [Config] but hold no state in common; all
// exported methods are safe for concurrent use.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager validates the shared configuration and returns an empty
// registry.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// Session returns the engine for the given session ID, creating (and, with
// a snapshot store configured, restoring) it on first use. An empty ID
// creates a fresh session under a generated UUID.
func (m *Manager) Session(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s, err := newSession(ctx, id, m.cfg)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session opened", "session_id", id, "nodes", s.NodeCount())
	return s, nil
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// InsertTurn records a turn in the named session, creating the session on
// first use.
func (m *Manager) InsertTurn(ctx context.Context, sessionID string, role memory.Role, text string) (memory.TurnID, error) {
	s, err := m.Session(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.InsertTurn(ctx, role, text)
}

// QueryContext assembles context for the named session. Unlike InsertTurn
// it does not create sessions: querying an unknown session is an error.
func (m *Manager) QueryContext(ctx context.Context, sessionID string, query string, budget int) (Result, error) {
	s, ok := m.Lookup(sessionID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.QueryContext(ctx, query, budget)
}

// Close drains and persists the named session and removes it from the
// registry.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	err := s.Close(ctx)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}
	if err != nil {
		return err
	}
	slog.Info("session closed", "session_id", sessionID)
	return nil
}

// CloseAll closes every live session, collecting errors.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
