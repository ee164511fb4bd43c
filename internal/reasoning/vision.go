// internal/reasoning/vision.go
package reasoning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
)

const (
	safetyDecisionArg = "safety_decision"
	nudgeText         = "No action was taken. Continue working toward the objective, or reply with a short summary and no function calls if it is complete."
)

// Drags cannot be executed, so the model is told not to propose them.
var excludedVisionFunctions = []string{"drag_and_drop"}

// AgentResponse is the parsed outcome of one model turn.
type AgentResponse struct {
	Text                    string
	Actions                 []schemas.Action
	IsComplete              bool
	RequiresConfirmation    bool
	ConfirmationExplanation string
	Safety                  safety.Decision
}

// pendingCall is a function call from the last model turn that still needs a response.
type pendingCall struct {
	call     schemas.FunctionCall
	actionID string
	err      error // translation failure; the call produced no action
}

// VisionLoop drives a computer-use model. The transcript only ever grows,
// except that screenshots older than the configured window are stripped.
type VisionLoop struct {
	client schemas.VisionClient
	cfg    config.ReasoningConfig
	screen Screen
	logger *zap.Logger

	transcript []schemas.Turn
	pending    []pendingCall
	failures   int
	// retryTurn is set when the last user turn never got an answer.
	retryTurn bool
}

var _ Adapter = (*VisionLoop)(nil)

// NewVisionLoop creates a vision-mode adapter.
func NewVisionLoop(client schemas.VisionClient, cfg config.ReasoningConfig, logger *zap.Logger) *VisionLoop {
	return &VisionLoop{
		client: client,
		cfg:    cfg,
		screen: Screen{Width: cfg.ScreenWidth, Height: cfg.ScreenHeight},
		logger: logger.Named("vision"),
	}
}

func (v *VisionLoop) Mode() schemas.AgentMode { return schemas.ModeVision }

func (v *VisionLoop) NeedsPageAnalysis() bool { return false }

func (v *VisionLoop) Tasks() []schemas.AgentTask { return nil }

func (v *VisionLoop) Begin(ctx context.Context, objective string, obs Observation) (*Decision, error) {
	resp, err := v.InitializeSession(ctx, objective, obs.Screenshot, obs.URL)
	if err != nil {
		return nil, err
	}
	return resp.decision(), nil
}

func (v *VisionLoop) Next(ctx context.Context, fb Feedback) (*Decision, error) {
	resp, err := v.send(ctx, fb.Results, fb.Observation.Screenshot, fb.Observation.URL, fb.SafetyAcknowledged, fb.Instructions)
	if err != nil {
		return nil, err
	}
	return resp.decision(), nil
}

// Transcript returns a copy of the conversation so far.
func (v *VisionLoop) Transcript() []schemas.Turn {
	return append([]schemas.Turn(nil), v.transcript...)
}

// InitializeSession starts a fresh transcript with the objective and the first screenshot.
func (v *VisionLoop) InitializeSession(ctx context.Context, objective, screenshot, currentURL string) (*AgentResponse, error) {
	v.transcript = nil
	v.pending = nil
	v.failures = 0

	parts := []schemas.Part{
		{Text: "Current URL: " + currentURL},
		{Text: objective},
	}
	if img := v.decode(screenshot); img != nil {
		parts = append(parts, schemas.Part{ImagePNG: img})
	}
	v.transcript = append(v.transcript, schemas.Turn{Role: schemas.RoleUser, Parts: parts})
	return v.exchange(ctx)
}

// SendActionResults answers every pending function call and asks for the next step.
func (v *VisionLoop) SendActionResults(ctx context.Context, results []*schemas.ActionResult, screenshot, currentURL string, acknowledged bool) (*AgentResponse, error) {
	return v.send(ctx, results, screenshot, currentURL, acknowledged, "")
}

func (v *VisionLoop) send(ctx context.Context, results []*schemas.ActionResult, screenshot, currentURL string, acknowledged bool, instructions string) (*AgentResponse, error) {
	img := v.decode(screenshot)

	if v.retryTurn && len(v.transcript) > 0 {
		// The previous request never got an answer: resend it with the fresh screenshot.
		last := &v.transcript[len(v.transcript)-1]
		last.Parts = withImage(last.Parts, img)
		if instructions != "" {
			last.Parts = append(last.Parts, schemas.Part{Text: instructionText(instructions)})
		}
		return v.exchange(ctx)
	}

	parts := v.functionResponses(results, currentURL, acknowledged)
	if len(parts) == 0 {
		parts = append(parts, schemas.Part{Text: "Current URL: " + currentURL}, schemas.Part{Text: nudgeText})
	}
	if instructions != "" {
		parts = append(parts, schemas.Part{Text: instructionText(instructions)})
	}
	if img != nil {
		parts = append(parts, schemas.Part{ImagePNG: img})
	}
	v.pending = nil
	v.transcript = append(v.transcript, schemas.Turn{Role: schemas.RoleUser, Parts: parts})
	v.prune()
	return v.exchange(ctx)
}

func (v *VisionLoop) functionResponses(results []*schemas.ActionResult, currentURL string, acknowledged bool) []schemas.Part {
	byID := make(map[string]*schemas.ActionResult, len(results))
	for _, r := range results {
		if r != nil {
			byID[r.ActionID] = r
		}
	}

	parts := make([]schemas.Part, 0, len(v.pending))
	for _, pc := range v.pending {
		response := map[string]any{"url": currentURL}
		switch r, ok := byID[pc.actionID]; {
		case pc.err != nil:
			response["error"] = pc.err.Error()
		case !ok:
			response["error"] = "action was not executed"
		case !r.Success:
			response["error"] = r.Error
		}
		if acknowledged {
			response["safety_acknowledgement"] = "true"
		}
		parts = append(parts, schemas.Part{FunctionResponse: &schemas.FunctionResponse{
			ID:       pc.call.ID,
			Name:     pc.call.Name,
			Response: response,
		}})
	}
	return parts
}

func (v *VisionLoop) exchange(ctx context.Context) (*AgentResponse, error) {
	turn, err := v.client.GenerateTurn(ctx, schemas.VisionRequest{
		SystemPrompt:      visionSystemPrompt,
		Transcript:        v.Transcript(),
		ScreenWidth:       v.screen.Width,
		ScreenHeight:      v.screen.Height,
		ExcludedFunctions: excludedVisionFunctions,
	})
	if err == nil && (turn == nil || len(turn.Parts) == 0) {
		err = fmt.Errorf("reasoning engine returned an empty turn")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return v.failed(err), nil
	}

	v.failures = 0
	v.retryTurn = false
	turn.Role = schemas.RoleModel
	v.transcript = append(v.transcript, *turn)
	return v.parse(*turn), nil
}

// failed degrades an engine failure to "no actions, not complete" until the
// consecutive failure budget runs out.
func (v *VisionLoop) failed(err error) *AgentResponse {
	v.failures++
	v.retryTurn = true
	v.logger.Warn("Computer-use turn failed.", zap.Int("consecutive_failures", v.failures), zap.Error(err))

	limit := v.cfg.MaxConsecutiveFailures
	if limit > 0 && v.failures >= limit {
		return &AgentResponse{
			Text:       fmt.Sprintf("Stopping after %d consecutive reasoning failures: %v", v.failures, err),
			IsComplete: true,
			Safety:     safety.DecisionRegular,
		}
	}
	return &AgentResponse{Safety: safety.DecisionRegular}
}

func (v *VisionLoop) parse(turn schemas.Turn) *AgentResponse {
	resp := &AgentResponse{Text: turn.Text()}
	calls := turn.FunctionCalls()

	var decisions []safety.Decision
	var explanations []string
	for _, call := range calls {
		if sd, ok := call.Args[safetyDecisionArg].(map[string]any); ok {
			verdict, _ := sd["decision"].(string)
			decisions = append(decisions, safety.ParseDecision(verdict))
			if explanation, _ := sd["explanation"].(string); explanation != "" {
				explanations = append(explanations, explanation)
			}
		}

		action, err := TranslateCall(call, v.screen)
		if err != nil {
			v.logger.Warn("Could not translate function call.", zap.String("function", call.Name), zap.Error(err))
			v.pending = append(v.pending, pendingCall{call: call, err: err})
			continue
		}
		v.pending = append(v.pending, pendingCall{call: call, actionID: action.ID})
		resp.Actions = append(resp.Actions, action)
	}

	resp.Safety = safety.Classify(decisions...)
	resp.RequiresConfirmation = resp.Safety == safety.DecisionRequireConfirmation
	resp.ConfirmationExplanation = strings.Join(explanations, "\n")
	resp.IsComplete = len(calls) == 0 && strings.TrimSpace(resp.Text) != ""
	return resp
}

// prune strips screenshots from all but the most recent user turns that carry one.
func (v *VisionLoop) prune() {
	keep := v.cfg.MaxScreenshots
	if keep <= 0 {
		return
	}
	seen := 0
	for i := len(v.transcript) - 1; i >= 0; i-- {
		turn := v.transcript[i]
		if turn.Role != schemas.RoleUser || !hasImage(turn.Parts) {
			continue
		}
		seen++
		if seen <= keep {
			continue
		}
		parts := make([]schemas.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			if len(p.ImagePNG) == 0 {
				parts = append(parts, p)
			}
		}
		v.transcript[i] = schemas.Turn{Role: turn.Role, Parts: parts}
	}
}

func (v *VisionLoop) decode(screenshot string) []byte {
	if screenshot == "" {
		return nil
	}
	img, err := base64.StdEncoding.DecodeString(screenshot)
	if err != nil {
		v.logger.Warn("Discarding screenshot that is not valid base64.", zap.Error(err))
		return nil
	}
	return img
}

func (r *AgentResponse) decision() *Decision {
	return &Decision{
		Text:        r.Text,
		Actions:     r.Actions,
		Complete:    r.IsComplete,
		Safety:      r.Safety,
		Explanation: r.ConfirmationExplanation,
	}
}

func instructionText(instructions string) string {
	return "Additional instructions from the user: " + instructions
}

func hasImage(parts []schemas.Part) bool {
	for _, p := range parts {
		if len(p.ImagePNG) > 0 {
			return true
		}
	}
	return false
}

// withImage replaces any image in parts with img.
func withImage(parts []schemas.Part, img []byte) []schemas.Part {
	out := make([]schemas.Part, 0, len(parts)+1)
	for _, p := range parts {
		if len(p.ImagePNG) == 0 {
			out = append(out, p)
		}
	}
	if img != nil {
		out = append(out, schemas.Part{ImagePNG: img})
	}
	return out
}
