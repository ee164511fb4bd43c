package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// MemoryStore keeps everything in process memory. It is used when no database is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]schemas.AgentSession
	tasks       map[string]map[int]schemas.AgentTask
	logs        map[string][]schemas.LogEntry
	screenshots map[string][]schemas.AgentScreenshot
}

var _ schemas.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]schemas.AgentSession),
		tasks:       make(map[string]map[int]schemas.AgentTask),
		logs:        make(map[string][]schemas.LogEntry),
		screenshots: make(map[string][]schemas.AgentScreenshot),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, session *schemas.AgentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *schemas.AgentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; !exists {
		return fmt.Errorf("%w: session %s", ErrNotFound, session.ID)
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*schemas.AgentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return &session, nil
}

func (m *MemoryStore) SaveTasks(_ context.Context, sessionID string, tasks []schemas.AgentTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPosition, ok := m.tasks[sessionID]
	if !ok {
		byPosition = make(map[int]schemas.AgentTask)
		m.tasks[sessionID] = byPosition
	}
	for _, t := range tasks {
		t.SessionID = sessionID
		byPosition[t.Position] = t
	}
	return nil
}

func (m *MemoryStore) AppendLog(_ context.Context, sessionID string, entry schemas.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[sessionID] = append(m.logs[sessionID], entry)
	return nil
}

func (m *MemoryStore) SaveScreenshot(_ context.Context, shot *schemas.AgentScreenshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenshots[shot.SessionID] = append(m.screenshots[shot.SessionID], *shot)
	return nil
}

// Tasks returns the tasks of a session ordered by position.
func (m *MemoryStore) Tasks(sessionID string) []schemas.AgentTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.AgentTask, 0, len(m.tasks[sessionID]))
	for _, t := range m.tasks[sessionID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Logs returns the log of a session in append order.
func (m *MemoryStore) Logs(sessionID string) []schemas.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]schemas.LogEntry(nil), m.logs[sessionID]...)
}

// Screenshots returns the screenshots of a session in save order.
func (m *MemoryStore) Screenshots(sessionID string) []schemas.AgentScreenshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]schemas.AgentScreenshot(nil), m.screenshots[sessionID]...)
}

func (m *MemoryStore) Close() {}
