package schemas

import "time"

// AgentMode selects the reasoning integration used by a session.
type AgentMode string

const (
	ModePlanning AgentMode = "planning" // Structured task/action plans produced ahead of execution.
	ModeVision   AgentMode = "vision"   // Screenshot-in, coordinate-actions-out loop.
)

// SessionStatus is the lifecycle state of an agent session.
type SessionStatus string

const (
	StatusIdle                 SessionStatus = "idle"
	StatusPlanning             SessionStatus = "planning"
	StatusRunning              SessionStatus = "running"
	StatusPaused               SessionStatus = "paused"
	StatusAwaitingConfirmation SessionStatus = "awaiting_confirmation"
	StatusCompleted            SessionStatus = "completed"
	StatusFailed               SessionStatus = "failed"
	StatusCancelled            SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AgentSession is one browser-controlled run toward a single objective.
type AgentSession struct {
	ID            string        `json:"id"`
	WorkspaceID   string        `json:"workspace_id"`
	UserID        string        `json:"user_id"`
	Objective     string        `json:"objective"`
	StartURL      string        `json:"start_url,omitempty"`
	Mode          AgentMode     `json:"mode"`
	Status        SessionStatus `json:"status"`
	CurrentURL    string        `json:"current_url,omitempty"`
	CurrentTaskID string        `json:"current_task_id,omitempty"`
	Turn          int           `json:"turn"`
	MaxTurns      int           `json:"max_turns"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// TaskStatus tracks a planning-mode task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// AgentTask is one decomposed unit of work within a planning-mode session.
// Actions only ever grow; re-planning appends to it.
type AgentTask struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Description     string         `json:"description"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
	Status          TaskStatus     `json:"status"`
	Position        int            `json:"position"`
	Actions         []Action       `json:"actions"`
	Results         []ActionResult `json:"results"`
	ExtractedData   map[string]any `json:"extracted_data,omitempty"`
}

// PendingConfirmation is held while a session waits for a human to confirm or deny a batch.
type PendingConfirmation struct {
	Actions     []Action  `json:"actions"`
	Explanation string    `json:"explanation"`
	RequestedAt time.Time `json:"requested_at"`
}

// LogLevel classifies a session log line.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarn    LogLevel = "warn"
	LogError   LogLevel = "error"
	LogSuccess LogLevel = "success"
	LogAction  LogLevel = "action"
)

// LogEntry is a single append-only session log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// TaskProgress summarizes planning-mode progress for the live view.
type TaskProgress struct {
	CompletedTasks int    `json:"completed_tasks"`
	TotalTasks     int    `json:"total_tasks"`
	CurrentTask    string `json:"current_task,omitempty"`
}

// LiveView is the externally pollable snapshot of a session.
type LiveView struct {
	SessionID     string               `json:"session_id"`
	Status        SessionStatus        `json:"status"`
	URL           string               `json:"url,omitempty"`
	Screenshot    string               `json:"screenshot,omitempty"` // base64 PNG
	CurrentAction string               `json:"current_action,omitempty"`
	Turn          int                  `json:"turn"`
	MaxTurns      int                  `json:"max_turns"`
	Progress      *TaskProgress        `json:"progress,omitempty"`
	Pending       *PendingConfirmation `json:"pending,omitempty"`
	Logs          []LogEntry           `json:"logs"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// AgentScreenshot is a persisted screenshot tied to a session and, optionally, a task/action.
type AgentScreenshot struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TaskID      string    `json:"task_id,omitempty"`
	ActionID    string    `json:"action_id,omitempty"`
	ImageData   string    `json:"image_data"`
	PageURL     string    `json:"page_url,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
