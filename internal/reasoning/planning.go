// internal/reasoning/planning.go
package reasoning

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
)

var _ Adapter = (*Planner)(nil)

func (p *Planner) Mode() schemas.AgentMode { return schemas.ModePlanning }

func (p *Planner) NeedsPageAnalysis() bool { return true }

// Begin plans the objective and emits the first action of the first task that has any.
func (p *Planner) Begin(ctx context.Context, objective string, obs Observation) (*Decision, error) {
	p.objective = objective
	p.tasks = nil
	p.queue = nil
	p.inflight = nil
	p.current = -1

	obs.Analysis = p.pageState(ctx, obs)
	plan := p.CreatePlan(ctx, PlanContext{Objective: objective, URL: obs.URL, Analysis: obs.Analysis})
	p.appendTasks(plan)
	p.logger.Info("Plan created.", zap.Int("tasks", len(plan.Tasks)), zap.Int("estimated_steps", plan.EstimatedSteps))

	d := p.advance(ctx, obs.Analysis)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.TasksChanged = true
	return d, nil
}

// Next records the results of the previous action, runs next-step analysis on the
// last of them and emits the next action.
func (p *Planner) Next(ctx context.Context, fb Feedback) (*Decision, error) {
	changed := false
	obs := fb.Observation
	obs.Analysis = p.pageState(ctx, obs)
	if instructions := strings.TrimSpace(fb.Instructions); instructions != "" {
		p.replan(ctx, instructions, obs)
		changed = true
	}
	if len(fb.Results) > 0 {
		p.record(ctx, fb.Results)
		changed = true
	}

	var d *Decision
	if p.current < 0 {
		d = p.advance(ctx, obs.Analysis)
	} else {
		d = p.step(ctx, lastResult(fb.Results), obs.Analysis)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.TasksChanged = d.TasksChanged || changed
	return d, nil
}

// Tasks returns a copy of the current task list.
func (p *Planner) Tasks() []schemas.AgentTask {
	out := make([]schemas.AgentTask, len(p.tasks))
	for i := range p.tasks {
		out[i] = copyTask(p.tasks[i])
	}
	return out
}

// step asks the engine about the current task after every action. It may end the
// task early, add follow-up actions, or let the queue run on.
func (p *Planner) step(ctx context.Context, last *schemas.ActionResult, analysis *schemas.PageAnalysis) *Decision {
	task := &p.tasks[p.current]
	if last == nil && len(p.queue) > 0 {
		return p.emit()
	}

	next := p.AnalyzeAndPlanNextStep(ctx, p.objective, *task, last, analysis)
	if next.IsTaskComplete {
		p.finish(TaskOutcome{Status: schemas.TaskCompleted, Reason: next.Reasoning})
		return p.advance(ctx, analysis)
	}

	switch {
	case last != nil && !last.Success:
		if len(next.NextActions) == 0 {
			p.finish(TaskOutcome{Status: schemas.TaskFailed, Reason: last.Error})
			return p.advance(ctx, analysis)
		}
		// Recovery actions run before whatever was still queued.
		p.queue = append(p.uniqueIDs(task, next.NextActions), p.queue...)
	default:
		p.queue = append(p.queue, p.uniqueIDs(task, next.NextActions)...)
	}

	if len(p.queue) == 0 {
		p.finish(TaskOutcome{Status: schemas.TaskCompleted, Reason: next.Reasoning})
		return p.advance(ctx, analysis)
	}
	return p.emit()
}

// TaskOutcome is how a task ended.
type TaskOutcome struct {
	Status schemas.TaskStatus
	Reason string
}

func (p *Planner) finish(outcome TaskOutcome) {
	task := &p.tasks[p.current]
	task.Status = outcome.Status
	p.logger.Info("Task finished.",
		zap.String("task_id", task.ID),
		zap.String("status", string(outcome.Status)),
		zap.String("reason", outcome.Reason),
	)
	p.current = -1
	p.queue = nil
	p.inflight = nil
}

// advance starts the next pending task. Tasks for which no actions can be generated are skipped.
func (p *Planner) advance(ctx context.Context, analysis *schemas.PageAnalysis) *Decision {
	for ctx.Err() == nil {
		idx := p.nextPending()
		if idx < 0 {
			p.current = -1
			return &Decision{Complete: true, Text: p.summary(), Safety: safety.DecisionRegular, TasksChanged: true}
		}

		p.current = idx
		task := &p.tasks[idx]
		task.Status = schemas.TaskInProgress

		actions := p.GenerateActionsForTask(ctx, task.Description, analysis)
		if len(actions) == 0 {
			p.finish(TaskOutcome{Status: schemas.TaskSkipped, Reason: "no actions could be generated"})
			continue
		}
		p.queue = p.uniqueIDs(task, actions)
		d := p.emit()
		d.TasksChanged = true
		return d
	}
	return &Decision{Safety: safety.DecisionRegular}
}

func (p *Planner) emit() *Decision {
	task := &p.tasks[p.current]
	action := p.queue[0]
	p.queue = p.queue[1:]
	task.Actions = append(task.Actions, action)
	p.inflight = []schemas.Action{action}

	snapshot := copyTask(*task)
	return &Decision{
		Text:    action.Label(),
		Actions: []schemas.Action{action},
		Safety:  safety.DecisionRegular,
		Task:    &snapshot,
	}
}

// record attaches results to the current task and folds extraction output into its data.
func (p *Planner) record(ctx context.Context, results []*schemas.ActionResult) {
	if p.current < 0 {
		return
	}
	task := &p.tasks[p.current]
	for _, r := range results {
		if r == nil {
			continue
		}
		task.Results = append(task.Results, *r)
		if !r.Success {
			continue
		}
		for _, a := range p.inflight {
			if a.ID == r.ActionID && a.Type == schemas.ActionExtract {
				p.collect(ctx, task, a, r)
			}
		}
	}
}

func (p *Planner) collect(ctx context.Context, task *schemas.AgentTask, action schemas.Action, result *schemas.ActionResult) {
	data, ok := result.Data.(map[string]any)
	if !ok {
		return
	}
	if task.ExtractedData == nil {
		task.ExtractedData = make(map[string]any)
	}

	if text, ok := data["text"].(string); ok {
		task.ExtractedData[extractionKey(action)] = text
		return
	}
	analysis, ok := data["analysis"].(*schemas.PageAnalysis)
	if !ok {
		return
	}
	goal := action.Label()
	if len(action.Options.ExtractFields) > 0 {
		goal += " (fields: " + strings.Join(action.Options.ExtractFields, ", ") + ")"
	}
	for k, v := range p.ExtractData(ctx, goal, analysis) {
		task.ExtractedData[k] = v
	}
}

func extractionKey(a schemas.Action) string {
	if a.Selector != nil && a.Selector.Value != "" {
		return a.Selector.Value
	}
	return a.ID
}

// replan folds human instructions into the objective and appends the resulting tasks.
func (p *Planner) replan(ctx context.Context, instructions string, obs Observation) {
	p.objective = fmt.Sprintf("%s\n\nAdditional instructions from the user: %s", p.objective, instructions)

	var actions []schemas.Action
	var results []schemas.ActionResult
	for _, t := range p.tasks {
		actions = append(actions, t.Actions...)
		results = append(results, t.Results...)
	}
	plan := p.CreatePlan(ctx, PlanContext{
		Objective:       p.objective,
		URL:             obs.URL,
		Analysis:        obs.Analysis,
		PreviousActions: actions,
		PreviousResults: results,
	})
	p.appendTasks(plan)
	p.logger.Info("Re-planned after new instructions.", zap.Int("added_tasks", len(plan.Tasks)))
}

func (p *Planner) appendTasks(plan Plan) {
	for _, t := range plan.Tasks {
		p.tasks = append(p.tasks, schemas.AgentTask{
			ID:              t.ID,
			Description:     t.Description,
			ExpectedOutcome: t.ExpectedOutcome,
			Status:          schemas.TaskPending,
			Position:        len(p.tasks),
			Actions:         []schemas.Action{},
			Results:         []schemas.ActionResult{},
		})
	}
}

func (p *Planner) nextPending() int {
	for i := range p.tasks {
		if p.tasks[i].Status == schemas.TaskPending {
			return i
		}
	}
	return -1
}

// uniqueIDs gives every action an id not yet used in the task or queue.
func (p *Planner) uniqueIDs(task *schemas.AgentTask, actions []schemas.Action) []schemas.Action {
	seen := make(map[string]bool, len(task.Actions)+len(p.queue))
	for _, a := range task.Actions {
		seen[a.ID] = true
	}
	for _, a := range p.queue {
		seen[a.ID] = true
	}
	out := make([]schemas.Action, 0, len(actions))
	for _, a := range actions {
		if a.ID == "" || seen[a.ID] {
			a.ID = uuidNewString()
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}

func (p *Planner) summary() string {
	counts := make(map[schemas.TaskStatus]int)
	for _, t := range p.tasks {
		counts[t.Status]++
	}
	text := fmt.Sprintf("Finished %d of %d tasks", counts[schemas.TaskCompleted], len(p.tasks))
	if n := counts[schemas.TaskFailed]; n > 0 {
		text += fmt.Sprintf(", %d failed", n)
	}
	if n := counts[schemas.TaskSkipped]; n > 0 {
		text += fmt.Sprintf(", %d skipped", n)
	}
	return text + "."
}

func lastResult(results []*schemas.ActionResult) *schemas.ActionResult {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i] != nil {
			return results[i]
		}
	}
	return nil
}

func copyTask(t schemas.AgentTask) schemas.AgentTask {
	t.Actions = append([]schemas.Action(nil), t.Actions...)
	t.Results = append([]schemas.ActionResult(nil), t.Results...)
	if t.ExtractedData != nil {
		data := make(map[string]any, len(t.ExtractedData))
		for k, v := range t.ExtractedData {
			data[k] = v
		}
		t.ExtractedData = data
	}
	return t
}
