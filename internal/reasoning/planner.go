// internal/reasoning/planner.go
package reasoning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/llmutil"
)

// Fallback values used when the reasoning engine fails or answers with something unparseable.
const (
	fallbackTaskDescription = "Analyze the page and determine next steps"
	fallbackTaskOutcome     = "Understanding of current page state"
	fallbackNextStepReason  = "Unable to analyze page state"
	fallbackExtractError    = "Failed to extract data"
	noInterpretation        = "Unable to interpret screenshot"
	failedInterpretation    = "Failed to interpret screenshot"

	describePageQuestion = "Describe this web page for a browser automation agent. Name the page's purpose, " +
		"summarize the visible content and list the controls a user could click or fill in."
)

// Allows for mocking in tests.
var uuidNewString = uuid.NewString

// PlannedTask is one step of a Plan.
type PlannedTask struct {
	ID              string           `json:"id"`
	Description     string           `json:"description"`
	Actions         []schemas.Action `json:"actions"`
	ExpectedOutcome string           `json:"expectedOutcome"`
}

// Plan is the decomposition of an objective into ordered tasks.
type Plan struct {
	Objective          string        `json:"objective"`
	Tasks              []PlannedTask `json:"tasks"`
	EstimatedSteps     int           `json:"estimatedSteps"`
	FallbackStrategies []string      `json:"fallbackStrategies"`
}

// NextStep is the planner's verdict on the current task after an action.
type NextStep struct {
	ShouldContinue bool             `json:"shouldContinue"`
	IsTaskComplete bool             `json:"isTaskComplete"`
	Reasoning      string           `json:"reasoning"`
	NextActions    []schemas.Action `json:"nextActions"`
}

// Planner produces structured plans and actions from a text reasoning engine.
// It implements Adapter for planning mode; see planning.go.
type Planner struct {
	llm    schemas.LLMClient
	logger *zap.Logger

	objective string
	tasks     []schemas.AgentTask
	current   int
	queue     []schemas.Action
	inflight  []schemas.Action
}

// NewPlanner creates a planning-mode adapter.
func NewPlanner(llm schemas.LLMClient, logger *zap.Logger) *Planner {
	return &Planner{
		llm:     llm,
		logger:  logger.Named("planner"),
		current: -1,
	}
}

// CreatePlan decomposes an objective into tasks. It never fails: engine or parse
// errors produce a single generic task.
func (p *Planner) CreatePlan(ctx context.Context, pc PlanContext) Plan {
	req := schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   buildPlanningPrompt(pc),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.4, MaxTokens: 4000, ForceJSONFormat: true},
	}

	plan, err := generateJSON[Plan](ctx, p.llm, req)
	if err != nil || len(plan.Tasks) == 0 {
		p.logger.Warn("Planning failed, falling back to a single analysis task.", zap.Error(err))
		return fallbackPlan(pc.Objective)
	}

	if plan.Objective == "" {
		plan.Objective = pc.Objective
	}
	for i := range plan.Tasks {
		if plan.Tasks[i].ID == "" {
			plan.Tasks[i].ID = uuidNewString()
		}
		plan.Tasks[i].Actions = normalizeActions(plan.Tasks[i].Actions)
	}
	if plan.EstimatedSteps <= 0 {
		plan.EstimatedSteps = len(plan.Tasks)
	}
	return *plan
}

func fallbackPlan(objective string) Plan {
	return Plan{
		Objective: objective,
		Tasks: []PlannedTask{{
			ID:              uuidNewString(),
			Description:     fallbackTaskDescription,
			Actions:         []schemas.Action{},
			ExpectedOutcome: fallbackTaskOutcome,
		}},
		EstimatedSteps:     1,
		FallbackStrategies: []string{},
	}
}

// GenerateActionsForTask turns a task description into concrete actions against
// the analyzed page. It returns an empty slice when nothing usable comes back.
func (p *Planner) GenerateActionsForTask(ctx context.Context, description string, analysis *schemas.PageAnalysis) []schemas.Action {
	req := schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   buildActionsPrompt(description, analysis),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.3, MaxTokens: 2000},
	}

	actions, err := generateJSON[[]schemas.Action](ctx, p.llm, req)
	if err != nil {
		p.logger.Warn("Action generation failed.", zap.String("task", description), zap.Error(err))
		return []schemas.Action{}
	}
	return normalizeActions(*actions)
}

// AnalyzeAndPlanNextStep decides whether the current task is done and what to do next.
// Failures end the task rather than looping on a broken engine.
func (p *Planner) AnalyzeAndPlanNextStep(ctx context.Context, objective string, task schemas.AgentTask, lastResult *schemas.ActionResult, analysis *schemas.PageAnalysis) NextStep {
	req := schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   buildNextStepPrompt(objective, task, lastResult, analysis),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.3, MaxTokens: 2000, ForceJSONFormat: true},
	}

	step, err := generateJSON[NextStep](ctx, p.llm, req)
	if err != nil {
		p.logger.Warn("Next-step analysis failed.", zap.String("task_id", task.ID), zap.Error(err))
		return NextStep{IsTaskComplete: true, Reasoning: fallbackNextStepReason, NextActions: []schemas.Action{}}
	}
	step.NextActions = normalizeActions(step.NextActions)
	return *step
}

// ExtractData pulls structured data matching goal out of an analyzed page.
func (p *Planner) ExtractData(ctx context.Context, goal string, analysis *schemas.PageAnalysis) map[string]any {
	req := schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   buildExtractionPrompt(goal, analysis),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.2, MaxTokens: 4000, ForceJSONFormat: true},
	}

	raw, err := p.llm.Generate(ctx, req)
	if err != nil {
		p.logger.Warn("Data extraction failed.", zap.Error(err))
		return map[string]any{"error": fallbackExtractError, "raw": ""}
	}
	data, err := llmutil.ParseJSONResponse[map[string]any](raw)
	if err != nil || *data == nil {
		return map[string]any{"error": fallbackExtractError, "raw": raw}
	}
	return *data
}

// InterpretScreenshot answers a free-form question about a base64 PNG screenshot.
func (p *Planner) InterpretScreenshot(ctx context.Context, screenshot, question string) string {
	img, err := base64.StdEncoding.DecodeString(screenshot)
	if err != nil {
		p.logger.Warn("Screenshot is not valid base64.", zap.Error(err))
		return failedInterpretation
	}

	answer, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: question,
		ImagePNG:   img,
		Tier:       schemas.TierFast,
		Options:    schemas.GenerationOptions{Temperature: 0.2, MaxTokens: 2000},
	})
	if err != nil {
		p.logger.Warn("Screenshot interpretation failed.", zap.Error(err))
		return failedInterpretation
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return noInterpretation
	}
	return answer
}

// pageState returns the DOM analysis of obs. When that is missing but a screenshot
// was captured, the page is described from the screenshot instead.
func (p *Planner) pageState(ctx context.Context, obs Observation) *schemas.PageAnalysis {
	if obs.Analysis != nil || obs.Screenshot == "" {
		return obs.Analysis
	}
	desc := p.InterpretScreenshot(ctx, obs.Screenshot, describePageQuestion)
	if desc == failedInterpretation || desc == noInterpretation {
		return nil
	}
	p.logger.Debug("No page analysis, planning from a screenshot description.", zap.String("url", obs.URL))
	return &schemas.PageAnalysis{
		URL:     obs.URL,
		Title:   obs.Title,
		Content: schemas.PageContent{Paragraphs: []string{desc}},
	}
}

func generateJSON[T any](ctx context.Context, llm schemas.LLMClient, req schemas.GenerationRequest) (*T, error) {
	raw, err := llm.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reasoning engine call failed: %w", err)
	}
	return llmutil.ParseJSONResponse[T](raw)
}

// normalizeActions fills in missing ids and drops entries without a type.
func normalizeActions(actions []schemas.Action) []schemas.Action {
	out := make([]schemas.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == "" {
			continue
		}
		if a.ID == "" {
			a.ID = fmt.Sprintf("action-%d", len(out)+1)
		}
		out = append(out, a)
	}
	return out
}
