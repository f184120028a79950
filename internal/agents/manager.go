// ABOUTME: Registry of named agent sessions, resolved by the relay dispatcher.
// ABOUTME: Central coordinator for session registration and lookup.

package agents

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/tokenring-ai/slack/internal/relay"
)

// ErrAgentAlreadyRegistered indicates an agent with the same name is already registered.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// Manager holds the named sessions a relay can dispatch to.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "agents"),
	}
}

// Register adds a session under its configured name.
// Returns ErrAgentAlreadyRegistered if the name is taken.
func (m *Manager) Register(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sess.Name()]; exists {
		return ErrAgentAlreadyRegistered
	}
	m.sessions[sess.Name()] = sess
	m.logger.Info("agent registered",
		"agent", sess.Name(),
		"total_agents", len(m.sessions),
	)
	return nil
}

// Resolve implements relay.AgentResolver.
func (m *Manager) Resolve(name string) (relay.AgentSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[name]
	if !ok {
		return nil, false
	}
	return sess, true
}

// Names returns the registered agent names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
