// internal/reasoning/prompts.go
package reasoning

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

const plannerSystemPrompt = `You are the planning engine of 'pilot', an autonomous browser automation agent.
You receive an objective and a structured snapshot of the current web page, and you answer with JSON only.
Prefer stable selectors: ids, names and aria labels over positional CSS. Never invent elements that are not in the snapshot.`

const actionSchemaPrompt = `Each action is an object with:
- id: unique string identifier
- type: one of 'navigate', 'click', 'type', 'scroll', 'wait', 'screenshot', 'extract', 'hover', 'select', 'press_key', 'go_back', 'go_forward'
- selector: { "type": "css"|"xpath"|"text"|"aria"|"id", "value": string } for actions that target an element
- value: string for navigate, type and select
- description: what the action does
- options: optional { "delay": number, "waitFor": "load"|"navigation"|number, "key": string, "scrollAmount": number, "direction": "up"|"down"|"left"|"right", "pressEnter": boolean, "extractFields": [string] }`

const visionSystemPrompt = `You are operating a web browser on behalf of a user to accomplish their objective.
Work step by step from the screenshots you receive. When the objective is achieved, reply with a short summary and no function calls.
Ask for confirmation before purchases, sending messages, accepting terms or any other action with side effects the user cannot undo.`

// PlanContext is the input to CreatePlan.
type PlanContext struct {
	Objective       string
	URL             string
	Analysis        *schemas.PageAnalysis
	PreviousActions []schemas.Action
	PreviousResults []schemas.ActionResult
}

func toJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(out)
}

func buildPlanningPrompt(pc PlanContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a detailed execution plan for the following objective.\n\nOBJECTIVE: %s\n\n", pc.Objective)

	if pc.URL != "" {
		fmt.Fprintf(&b, "CURRENT URL: %s\n\n", pc.URL)
	}
	if pc.Analysis != nil {
		visible := pc.Analysis.VisibleElements(0)
		fmt.Fprintf(&b, "CURRENT PAGE ANALYSIS:\n- Title: %s\n- Visible Interactive Elements: %d\n- Forms: %d\n- Navigation Links: %d\n\n",
			pc.Analysis.Title, len(visible), len(pc.Analysis.Forms), len(pc.Analysis.Navigation))
		fmt.Fprintf(&b, "Available Elements (sample):\n%s\n\n", toJSON(pc.Analysis.VisibleElements(15)))
		writePageDescription(&b, pc.Analysis)
	}
	if len(pc.PreviousActions) > 0 {
		fmt.Fprintf(&b, "PREVIOUS ACTIONS:\n%s\n\nPREVIOUS RESULTS:\n%s\n\n", toJSON(pc.PreviousActions), toJSON(compactResults(pc.PreviousResults)))
	}

	b.WriteString("Create an execution plan with specific tasks. Each task describes what needs to be done and the expected outcome.\n\n")
	b.WriteString("Return your response as JSON with this structure:\n```json\n")
	b.WriteString(`{
  "objective": "restated objective",
  "estimatedSteps": 3,
  "tasks": [
    {
      "description": "what this task accomplishes",
      "actions": [{"type": "action type", "description": "what this action does"}],
      "expectedOutcome": "what should happen after this task"
    }
  ],
  "fallbackStrategies": ["alternative approaches if the primary plan fails"]
}`)
	b.WriteString("\n```\n\nBe specific and practical. Focus on actions that can be reliably automated.")
	return b.String()
}

func buildActionsPrompt(description string, analysis *schemas.PageAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate specific browser actions to accomplish the following task.\n\nTASK: %s\n\n", description)
	if analysis != nil {
		fmt.Fprintf(&b, "CURRENT PAGE:\n- URL: %s\n- Title: %s\n\n", analysis.URL, analysis.Title)
		fmt.Fprintf(&b, "AVAILABLE INTERACTIVE ELEMENTS:\n%s\n\n", toJSON(analysis.VisibleElements(30)))
		fmt.Fprintf(&b, "AVAILABLE FORMS:\n%s\n\n", toJSON(analysis.Forms))
		fmt.Fprintf(&b, "NAVIGATION LINKS:\n%s\n\n", toJSON(firstN(analysis.Navigation, 20)))
		writePageDescription(&b, analysis)
	}
	b.WriteString("Generate a JSON array of browser actions.\n")
	b.WriteString(actionSchemaPrompt)
	b.WriteString("\n\nReturn ONLY a JSON array of actions, wrapped in ```json markers.\n\nExample:\n```json\n")
	b.WriteString(`[
  {"id": "action-1", "type": "click", "selector": {"type": "css", "value": "#search-input"}, "description": "Click on search input field"},
  {"id": "action-2", "type": "type", "selector": {"type": "css", "value": "#search-input"}, "value": "search term", "description": "Type search query", "options": {"delay": 50}}
]`)
	b.WriteString("\n```")
	return b.String()
}

func buildNextStepPrompt(objective string, task schemas.AgentTask, lastResult *schemas.ActionResult, analysis *schemas.PageAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the current state to determine next steps.\n\nOBJECTIVE: %s\nCURRENT TASK: %s\n\n", objective, task.Description)
	fmt.Fprintf(&b, "PREVIOUS ACTIONS TAKEN:\n%s\n\n", toJSON(task.Actions))
	if lastResult != nil {
		fmt.Fprintf(&b, "LAST ACTION RESULT:\n%s\n\n", toJSON(compactResults([]schemas.ActionResult{*lastResult})[0]))
	}
	if analysis != nil {
		headings := make([]string, 0, len(analysis.Content.Headings))
		for _, h := range analysis.Content.Headings {
			headings = append(headings, h.Text)
		}
		fmt.Fprintf(&b, "CURRENT PAGE STATE:\n- URL: %s\n- Title: %s\n- Visible Elements: %d\n- Forms: %d\n- Navigation Links: %d\n\n",
			analysis.URL, analysis.Title, len(analysis.VisibleElements(0)), len(analysis.Forms), len(analysis.Navigation))
		fmt.Fprintf(&b, "CONTENT SUMMARY:\n- Headings: %s\n- Paragraphs: %d\n\n", strings.Join(headings, ", "), len(analysis.Content.Paragraphs))
		fmt.Fprintf(&b, "AVAILABLE INTERACTIVE ELEMENTS:\n%s\n\n", toJSON(analysis.VisibleElements(20)))
		writePageDescription(&b, analysis)
	}
	b.WriteString("Determine:\n1. Is the current task complete?\n2. Should we continue with more actions?\n3. What specific actions should we take next?\n\n")
	b.WriteString(actionSchemaPrompt)
	b.WriteString("\n\nReturn a JSON response:\n```json\n")
	b.WriteString(`{
  "shouldContinue": true,
  "isTaskComplete": false,
  "reasoning": "explanation of current state and decision",
  "nextActions": []
}`)
	b.WriteString("\n```")
	return b.String()
}

// writePageDescription adds the page text when no elements were found, which is
// the case for analyses built from a screenshot.
func writePageDescription(b *strings.Builder, analysis *schemas.PageAnalysis) {
	if len(analysis.Elements) > 0 || len(analysis.Content.Paragraphs) == 0 {
		return
	}
	fmt.Fprintf(b, "PAGE DESCRIPTION:\n%s\n\n", strings.Join(firstN(analysis.Content.Paragraphs, 5), "\n\n"))
}

func buildExtractionPrompt(goal string, analysis *schemas.PageAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract the requested information from the current page.\n\nEXTRACTION GOAL: %s\n\n", goal)
	if analysis != nil {
		fmt.Fprintf(&b, "PAGE CONTENT:\n- URL: %s\n- Title: %s\n\nHEADINGS:\n", analysis.URL, analysis.Title)
		for _, h := range analysis.Content.Headings {
			fmt.Fprintf(&b, "%s %s\n", strings.Repeat("#", max(h.Level, 1)), h.Text)
		}
		fmt.Fprintf(&b, "\nPARAGRAPHS:\n%s\n\n", strings.Join(firstN(analysis.Content.Paragraphs, 10), "\n\n"))
		fmt.Fprintf(&b, "TABLES:\n%s\n\nLISTS:\n%s\n\n", toJSON(analysis.Content.Tables), toJSON(analysis.Content.Lists))
	}
	b.WriteString("Extract the requested data and return it as a structured JSON object.\nReturn ONLY the JSON wrapped in ```json markers.")
	return b.String()
}

// compactResults drops screenshots so prompts stay small.
func compactResults(results []schemas.ActionResult) []schemas.ActionResult {
	out := make([]schemas.ActionResult, len(results))
	for i, r := range results {
		r.Screenshot = ""
		out[i] = r
	}
	return out
}

func firstN[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
