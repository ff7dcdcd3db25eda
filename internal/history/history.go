package history

import (
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation transcript.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Manager keeps transcripts per session id until the session is reset.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string][]Turn)}
}

// Reset drops the transcript of a session.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Append(sessionID string, turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], turns...)
}

// Get returns a copy of the transcript.
func (m *Manager) Get(sessionID string) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	es := m.sessions[sessionID]
	out := make([]Turn, len(es))
	copy(out, es)
	return out
}

func (m *Manager) Has(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[sessionID]
	return ok
}
