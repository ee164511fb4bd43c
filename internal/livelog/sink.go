// Package livelog keeps the live view of a session: an append-only log plus the
// latest browser snapshot, readable at any time without touching the browser.
package livelog

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// SnapshotLogLimit is the number of log entries a Snapshot carries.
const SnapshotLogLimit = 50

// Listener receives a copy of the live view after every change.
type Listener func(view schemas.LiveView)

// Sink is safe for concurrent use. Listeners run synchronously on the writer's
// goroutine, outside the lock, and must not block.
type Sink struct {
	mu        sync.RWMutex
	view      schemas.LiveView
	logs      []schemas.LogEntry
	listeners []Listener

	logger *zap.Logger
	now    func() time.Time
}

// New creates a sink for one session.
func New(sessionID string, maxTurns int, logger *zap.Logger) *Sink {
	return &Sink{
		view: schemas.LiveView{
			SessionID: sessionID,
			Status:    schemas.StatusIdle,
			MaxTurns:  maxTurns,
			UpdatedAt: time.Now(),
		},
		logger: logger.Named("livelog").With(zap.String("session_id", sessionID)),
		now:    time.Now,
	}
}

// OnUpdate registers a listener for snapshot changes.
func (s *Sink) OnUpdate(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Log appends an entry and mirrors it to the process logger.
func (s *Sink) Log(level schemas.LogLevel, message string) schemas.LogEntry {
	entry := schemas.LogEntry{Timestamp: s.now(), Level: level, Message: message}

	switch level {
	case schemas.LogError:
		s.logger.Error(message)
	case schemas.LogWarn:
		s.logger.Warn(message)
	case schemas.LogAction, schemas.LogSuccess:
		s.logger.Info(message, zap.String("kind", string(level)))
	default:
		s.logger.Info(message)
	}

	s.mu.Lock()
	s.logs = append(s.logs, entry)
	s.view.UpdatedAt = entry.Timestamp
	s.mu.Unlock()
	s.notify()
	return entry
}

// Update applies fn to the live view under the lock. fn must not retain the pointer.
func (s *Sink) Update(fn func(view *schemas.LiveView)) {
	s.mu.Lock()
	fn(&s.view)
	s.view.UpdatedAt = s.now()
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a copy of the live view with the most recent logs.
func (s *Sink) Snapshot() schemas.LiveView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Logs returns every entry logged so far.
func (s *Sink) Logs() []schemas.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schemas.LogEntry(nil), s.logs...)
}

func (s *Sink) snapshotLocked() schemas.LiveView {
	view := s.view
	start := 0
	if len(s.logs) > SnapshotLogLimit {
		start = len(s.logs) - SnapshotLogLimit
	}
	view.Logs = append([]schemas.LogEntry{}, s.logs[start:]...)
	if s.view.Progress != nil {
		progress := *s.view.Progress
		view.Progress = &progress
	}
	if s.view.Pending != nil {
		pending := *s.view.Pending
		pending.Actions = append([]schemas.Action(nil), pending.Actions...)
		view.Pending = &pending
	}
	return view
}

func (s *Sink) notify() {
	s.mu.RLock()
	if len(s.listeners) == 0 {
		s.mu.RUnlock()
		return
	}
	listeners := append([]Listener(nil), s.listeners...)
	view := s.snapshotLocked()
	s.mu.RUnlock()

	for _, l := range listeners {
		l(view)
	}
}
