// internal/reasoning/planning_test.go
package reasoning

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/mocks"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
)

const twoTaskPlan = `{"objective": "buy shoes", "tasks": [
  {"id": "t1", "description": "Search for shoes", "expectedOutcome": "results"},
  {"id": "t2", "description": "Open the first result", "expectedOutcome": "product page"}
]}`

func succeeded(d *Decision) []*schemas.ActionResult {
	out := make([]*schemas.ActionResult, 0, len(d.Actions))
	for _, a := range d.Actions {
		out = append(out, &schemas.ActionResult{ActionID: a.ID, Success: true})
	}
	return out
}

func TestPlanner_RunsTasksInOrder(t *testing.T) {
	planner, llm := setupPlanner(t)
	ctx := context.Background()
	obs := Observation{URL: "https://shop.example.com/", Analysis: sampleAnalysis(3)}

	llm.On("Generate", mock.Anything, promptContains(planPrompt)).Return(twoTaskPlan, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("TASK: Search for shoes")).Return(`[
  {"id": "a1", "type": "click", "selector": {"type": "css", "value": "#q"}},
  {"id": "a2", "type": "type", "selector": {"type": "css", "value": "#q"}, "value": "shoes"}
]`, nil).Once()

	d, err := planner.Begin(ctx, "buy shoes", obs)
	require.NoError(t, err)
	assert.Equal(t, schemas.ModePlanning, planner.Mode())
	assert.True(t, planner.NeedsPageAnalysis())
	assert.True(t, d.TasksChanged)
	assert.Equal(t, safety.DecisionRegular, d.Safety)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "a1", d.Actions[0].ID)
	require.NotNil(t, d.Task)
	assert.Equal(t, "t1", d.Task.ID)
	assert.Equal(t, schemas.TaskInProgress, d.Task.Status)

	// The engine keeps the task open, so the queued a2 runs next.
	llm.On("Generate", mock.Anything, promptContains(nextPrompt)).Return(`{"shouldContinue": true, "isTaskComplete": false, "nextActions": []}`, nil).Once()
	d, err = planner.Next(ctx, Feedback{Results: succeeded(d), Observation: obs})
	require.NoError(t, err)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "a2", d.Actions[0].ID)

	llm.On("Generate", mock.Anything, promptContains(nextPrompt)).Return(`{"isTaskComplete": true, "reasoning": "results shown"}`, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("TASK: Open the first result")).Return(`[]`, nil).Once()

	d, err = planner.Next(ctx, Feedback{Results: succeeded(d), Observation: obs})
	require.NoError(t, err)
	assert.True(t, d.Complete)
	assert.Empty(t, d.Actions)
	assert.Equal(t, "Finished 1 of 2 tasks, 1 skipped.", d.Text)

	tasks := planner.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, schemas.TaskCompleted, tasks[0].Status)
	assert.Len(t, tasks[0].Actions, 2)
	assert.Len(t, tasks[0].Results, 2)
	assert.Equal(t, schemas.TaskSkipped, tasks[1].Status)
	assert.Equal(t, 1, tasks[1].Position)
	llm.AssertNumberOfCalls(t, "Generate", 5)
}

func TestPlanner_NextStepAnalysisAfterEverySuccess(t *testing.T) {
	begin := func(t *testing.T) (*Planner, *mocks.MockLLMClient, *Decision) {
		planner, llm := setupPlanner(t)
		llm.On("Generate", mock.Anything, promptContains(planPrompt)).Return(twoTaskPlan, nil).Once()
		llm.On("Generate", mock.Anything, promptContains("TASK: Search for shoes")).Return(`[
  {"id": "a1", "type": "click", "selector": {"type": "css", "value": "#q"}},
  {"id": "a2", "type": "type", "selector": {"type": "css", "value": "#q"}, "value": "shoes"}
]`, nil).Once()

		d, err := planner.Begin(context.Background(), "buy shoes", Observation{})
		require.NoError(t, err)
		require.Equal(t, "a1", d.Actions[0].ID)
		return planner, llm, d
	}

	t.Run("Completion skips the rest of the queue", func(t *testing.T) {
		planner, llm, d := begin(t)
		llm.On("Generate", mock.Anything, promptContains(nextPrompt)).Return(`{"isTaskComplete": true, "reasoning": "already searched"}`, nil).Once()
		llm.On("Generate", mock.Anything, promptContains("TASK: Open the first result")).
			Return(`[{"id": "b1", "type": "click", "selector": {"type": "text", "value": "First"}}]`, nil).Once()

		d, err := planner.Next(context.Background(), Feedback{Results: succeeded(d)})
		require.NoError(t, err)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, "b1", d.Actions[0].ID)
		assert.Equal(t, "t2", d.Task.ID)

		tasks := planner.Tasks()
		assert.Equal(t, schemas.TaskCompleted, tasks[0].Status)
		require.Len(t, tasks[0].Actions, 1, "a2 is never emitted")
		assert.Equal(t, "a1", tasks[0].Actions[0].ID)
	})

	t.Run("Follow-up actions join the back of the queue", func(t *testing.T) {
		planner, llm, d := begin(t)
		llm.On("Generate", mock.Anything, promptContains(nextPrompt)).
			Return(`{"shouldContinue": true, "isTaskComplete": false, "nextActions": [{"id": "a3", "type": "press_key", "value": "Enter"}]}`, nil).Once()
		llm.On("Generate", mock.Anything, promptContains(nextPrompt)).
			Return(`{"shouldContinue": true, "isTaskComplete": false, "nextActions": []}`, nil).Once()

		d, err := planner.Next(context.Background(), Feedback{Results: succeeded(d)})
		require.NoError(t, err)
		assert.Equal(t, "a2", d.Actions[0].ID)

		d, err = planner.Next(context.Background(), Feedback{Results: succeeded(d)})
		require.NoError(t, err)
		assert.Equal(t, "a3", d.Actions[0].ID)
		assert.Equal(t, schemas.TaskInProgress, planner.Tasks()[0].Status)
	})

	t.Run("Engine failure ends the task", func(t *testing.T) {
		planner, llm, d := begin(t)
		llm.On("Generate", mock.Anything, promptContains(nextPrompt)).Return("", assert.AnError).Once()
		llm.On("Generate", mock.Anything, promptContains("TASK: Open the first result")).Return(`[]`, nil).Once()

		d, err := planner.Next(context.Background(), Feedback{Results: succeeded(d)})
		require.NoError(t, err)
		assert.True(t, d.Complete)
		assert.Equal(t, schemas.TaskCompleted, planner.Tasks()[0].Status)
	})
}

func TestPlanner_MalformedPlanYieldsSingleFallbackTask(t *testing.T) {
	planner, llm := setupPlanner(t)
	llm.On("Generate", mock.Anything, promptContains(planPrompt)).Return("Sure! First, open the site.", nil).Once()
	llm.On("Generate", mock.Anything, promptContains(actionsPrompt)).Return("no idea", nil).Once()

	d, err := planner.Begin(context.Background(), "do the thing", Observation{})
	require.NoError(t, err)

	tasks := planner.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Analyze the page and determine next steps", tasks[0].Description)
	assert.Empty(t, tasks[0].Actions)
	assert.Equal(t, schemas.TaskSkipped, tasks[0].Status)
	assert.True(t, d.Complete)
}

func TestPlanner_FailedActionHandling(t *testing.T) {
	begin := func(t *testing.T) (*Planner, *Decision, func(string, ...any) *mock.Call) {
		planner, llm := setupPlanner(t)
		llm.On("Generate", mock.Anything, promptContains(planPrompt)).Return(twoTaskPlan, nil).Once()
		llm.On("Generate", mock.Anything, promptContains("TASK: Search for shoes")).
			Return(`[{"id": "a1", "type": "click", "selector": {"type": "css", "value": "#missing"}}, {"id": "a2", "type": "wait", "options": {"delay": 10}}]`, nil).Once()

		d, err := planner.Begin(context.Background(), "buy shoes", Observation{})
		require.NoError(t, err)
		return planner, d, func(fragment string, ret ...any) *mock.Call {
			return llm.On("Generate", mock.Anything, promptContains(fragment)).Return(ret...).Once()
		}
	}
	failure := func(d *Decision) []*schemas.ActionResult {
		return []*schemas.ActionResult{{ActionID: d.Actions[0].ID, Success: false, Error: "element not found", ErrorCode: "ELEMENT_NOT_FOUND"}}
	}

	t.Run("No recovery marks the task failed", func(t *testing.T) {
		planner, d, expect := begin(t)
		expect(nextPrompt, `{"shouldContinue": false, "isTaskComplete": false, "nextActions": []}`, nil)
		expect("TASK: Open the first result", `[{"id": "b1", "type": "click", "selector": {"type": "text", "value": "First"}}]`, nil)

		d, err := planner.Next(context.Background(), Feedback{Results: failure(d)})
		require.NoError(t, err)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, "b1", d.Actions[0].ID)
		assert.Equal(t, "t2", d.Task.ID)

		tasks := planner.Tasks()
		assert.Equal(t, schemas.TaskFailed, tasks[0].Status)
		assert.Equal(t, "ELEMENT_NOT_FOUND", tasks[0].Results[0].ErrorCode)
	})

	t.Run("Recovery actions run before the rest of the queue", func(t *testing.T) {
		planner, d, expect := begin(t)
		expect(nextPrompt, `{"shouldContinue": true, "isTaskComplete": false, "nextActions": [{"id": "a1", "type": "click", "selector": {"type": "css", "value": "#search"}}]}`, nil)

		d, err := planner.Next(context.Background(), Feedback{Results: failure(d)})
		require.NoError(t, err)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, "#search", d.Actions[0].Selector.Value)
		assert.NotEqual(t, "a1", d.Actions[0].ID, "colliding ids are replaced")

		expect(nextPrompt, `{"shouldContinue": true, "isTaskComplete": false, "nextActions": []}`, nil)
		d, err = planner.Next(context.Background(), Feedback{Results: succeeded(d)})
		require.NoError(t, err)
		assert.Equal(t, "a2", d.Actions[0].ID)
		assert.Equal(t, schemas.TaskInProgress, planner.Tasks()[0].Status)
	})
}

func TestPlanner_ExtractionAndInstructions(t *testing.T) {
	planner, llm := setupPlanner(t)
	ctx := context.Background()

	llm.On("Generate", mock.Anything, promptContains(planPrompt)).Return(`{"tasks": [{"id": "t1", "description": "Read the price"}]}`, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("TASK: Read the price")).Return(`[
  {"id": "x1", "type": "extract", "selector": {"type": "css", "value": ".price"}},
  {"id": "x2", "type": "extract", "description": "product details", "options": {"extractFields": ["name", "sku"]}}
]`, nil).Once()

	d, err := planner.Begin(ctx, "find the price", Observation{})
	require.NoError(t, err)
	require.Equal(t, "x1", d.Actions[0].ID)

	llm.On("Generate", mock.Anything, promptContains(nextPrompt)).Return(`{"isTaskComplete": false}`, nil).Once()

	d, err = planner.Next(ctx, Feedback{Results: []*schemas.ActionResult{{ActionID: "x1", Success: true, Data: map[string]any{"text": "$19.99"}}}})
	require.NoError(t, err)
	require.Equal(t, "x2", d.Actions[0].ID)
	assert.Equal(t, "$19.99", d.Task.ExtractedData[".price"])

	llm.On("Generate", mock.Anything, promptContains("EXTRACTION GOAL: product details (fields: name, sku)")).
		Return(`{"name": "Runner", "sku": "R-1"}`, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("Additional instructions from the user: also check shipping")).
		Return(`{"tasks": [{"id": "t2", "description": "Check shipping"}]}`, nil).Once()
	llm.On("Generate", mock.Anything, promptContains(nextPrompt)).Return(`{"isTaskComplete": true}`, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("TASK: Check shipping")).
		Return(`[{"id": "s1", "type": "click", "selector": {"type": "text", "value": "Shipping"}}]`, nil).Once()

	result := &schemas.ActionResult{ActionID: "x2", Success: true, Data: map[string]any{"analysis": sampleAnalysis(0), "fields": []string{"name", "sku"}}}
	d, err = planner.Next(ctx, Feedback{Results: []*schemas.ActionResult{result}, Instructions: "also check shipping"})
	require.NoError(t, err)
	assert.True(t, d.TasksChanged)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "s1", d.Actions[0].ID)

	tasks := planner.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, map[string]any{".price": "$19.99", "name": "Runner", "sku": "R-1"}, tasks[0].ExtractedData)
	assert.Equal(t, schemas.TaskCompleted, tasks[0].Status)
	assert.Equal(t, schemas.TaskInProgress, tasks[1].Status)
	assert.Equal(t, 1, tasks[1].Position)
}

func TestPlanner_PlansFromScreenshotWhenAnalysisIsMissing(t *testing.T) {
	planner, llm := setupPlanner(t)
	obs := Observation{URL: "https://app.example.com/login", Title: "Sign in", Screenshot: "iVBORw0KGgo="}
	const description = "A sign-in page with email and password fields and a Continue button."

	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return len(req.ImagePNG) > 0 && strings.Contains(req.UserPrompt, "Describe this web page")
	})).Return(description, nil).Once()
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.UserPrompt, planPrompt) &&
			strings.Contains(req.UserPrompt, "PAGE DESCRIPTION:\n"+description) &&
			strings.Contains(req.UserPrompt, "Title: Sign in")
	})).Return(`{"tasks": [{"id": "t1", "description": "Sign in"}]}`, nil).Once()
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.UserPrompt, "TASK: Sign in") && strings.Contains(req.UserPrompt, description)
	})).Return(`[{"id": "c1", "type": "click", "selector": {"type": "text", "value": "Continue"}}]`, nil).Once()

	d, err := planner.Begin(context.Background(), "log in", obs)
	require.NoError(t, err)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "c1", d.Actions[0].ID)
}

func TestPlanner_NoScreenshotDescriptionWhenAnalysisExists(t *testing.T) {
	planner, llm := setupPlanner(t)
	obs := Observation{URL: "https://shop.example.com/", Screenshot: "iVBORw0KGgo=", Analysis: sampleAnalysis(2)}

	llm.On("Generate", mock.Anything, promptContains(planPrompt)).Return(`{"tasks": [{"id": "t1", "description": "Browse"}]}`, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("TASK: Browse")).Return(`[]`, nil).Once()

	_, err := planner.Begin(context.Background(), "browse", obs)
	require.NoError(t, err)
	for _, call := range llm.Calls {
		req := call.Arguments.Get(1).(schemas.GenerationRequest)
		assert.Empty(t, req.ImagePNG)
	}
}

func TestPlanner_CancelledContext(t *testing.T) {
	planner, _ := setupPlanner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := planner.Begin(ctx, "anything", Observation{})
	assert.ErrorIs(t, err, context.Canceled)
}
