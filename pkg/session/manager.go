package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager creates a Controller per stream and tracks live sessions so they
// can be listed and cancelled out of band.
type Manager struct {
	registry *Registry
	opts     Options

	sessions map[string]*Controller
	mu       sync.RWMutex
}

// NewManager creates a session manager
func NewManager(registry *Registry, opts Options) *Manager {
	return &Manager{
		registry: registry,
		opts:     opts,
		sessions: make(map[string]*Controller),
	}
}

// Serve runs a new session on stream and blocks until it closes.
// Transports call this once per accepted stream.
func (m *Manager) Serve(ctx context.Context, stream Stream) error {
	c := NewController(m.registry, m.opts)

	m.mu.Lock()
	m.sessions[c.ID()] = c
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.sessions, c.ID())
		m.mu.Unlock()
	}()

	return c.Serve(ctx, stream)
}

// Get retrieves a live session by ID
func (m *Manager) Get(sessionID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return c, nil
}

// List returns snapshots of all live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, c := range m.sessions {
		infos = append(infos, c.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Cancel ends a live session. The session drains and reports its outcome
// to the client if the stream is still writable.
func (m *Manager) Cancel(sessionID string) error {
	c, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	c.Cancel()
	return nil
}

// CancelAll ends every live session. Used during graceful shutdown so that
// transports can stop without waiting for clients to hang up.
func (m *Manager) CancelAll() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.sessions {
		c.Cancel()
	}
	if n := len(m.sessions); n > 0 {
		slog.Info("Cancelled live sessions", "count", n)
		return n
	}
	return 0
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// TaskTypes returns the task types this manager can start.
func (m *Manager) TaskTypes() []string {
	return m.registry.Types()
}
