// Package reasoning turns reasoning-engine output into browser actions. Planning
// mode decomposes the objective into tasks ahead of execution; vision mode runs a
// screenshot-in, coordinate-actions-out loop.
package reasoning

import (
	"context"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
)

// Observation is the browser state handed to the reasoning engine.
type Observation struct {
	URL        string
	Title      string
	Screenshot string // base64 PNG
	Analysis   *schemas.PageAnalysis
}

// Feedback reports what happened since the last Decision.
type Feedback struct {
	Results     []*schemas.ActionResult
	Observation Observation
	// SafetyAcknowledged is set after a human confirmed the previous batch.
	SafetyAcknowledged bool
	// Instructions is free text a human added mid-session.
	Instructions string
}

// Decision is one reasoning step.
type Decision struct {
	Text         string
	Actions      []schemas.Action
	Complete     bool
	Safety       safety.Decision
	Explanation  string
	Task         *schemas.AgentTask
	TasksChanged bool
}

// Adapter is the single integration point between the orchestrator and a reasoning engine.
// Implementations are driven by one goroutine and are not safe for concurrent use.
type Adapter interface {
	Mode() schemas.AgentMode
	// NeedsPageAnalysis reports whether observations must carry a PageAnalysis.
	NeedsPageAnalysis() bool
	Begin(ctx context.Context, objective string, obs Observation) (*Decision, error)
	Next(ctx context.Context, fb Feedback) (*Decision, error)
	Tasks() []schemas.AgentTask
}
