package schemas

import (
	"time"
)

// ActionType names one abstract browser operation.
type ActionType string

const (
	ActionNavigate   ActionType = "navigate"
	ActionClick      ActionType = "click"
	ActionTypeText   ActionType = "type"
	ActionScroll     ActionType = "scroll"
	ActionWait       ActionType = "wait"
	ActionScreenshot ActionType = "screenshot"
	ActionExtract    ActionType = "extract"
	ActionHover      ActionType = "hover"
	ActionSelect     ActionType = "select"
	ActionPressKey   ActionType = "press_key"
	ActionDrag       ActionType = "drag" // Recognized, never executed.
	ActionGoBack     ActionType = "go_back"
	ActionGoForward  ActionType = "go_forward"
)

// SelectorType is the element resolution strategy.
type SelectorType string

const (
	SelectorCSS   SelectorType = "css"
	SelectorXPath SelectorType = "xpath"
	SelectorText  SelectorType = "text"
	SelectorAria  SelectorType = "aria"
	SelectorID    SelectorType = "id"
)

// Selector targets a DOM element.
type Selector struct {
	Type  SelectorType `json:"type"`
	Value string       `json:"value"`
}

// Coordinates is a viewport pixel position.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ActionOptions carries per-action tuning. WaitFor is either "load", "navigation",
// "networkidle" or a number of milliseconds.
type ActionOptions struct {
	Delay         int      `json:"delay,omitempty"`
	WaitFor       any      `json:"waitFor,omitempty"`
	Key           string   `json:"key,omitempty"`
	ScrollAmount  int      `json:"scrollAmount,omitempty"`
	Direction     string   `json:"direction,omitempty"`
	PressEnter    bool     `json:"pressEnter,omitempty"`
	ClearBefore   bool     `json:"clearBefore,omitempty"`
	ExtractFields []string `json:"extractFields,omitempty"`
}

// Action is one abstract browser operation request.
type Action struct {
	ID          string        `json:"id"`
	Type        ActionType    `json:"type"`
	Selector    *Selector     `json:"selector,omitempty"`
	Coordinates *Coordinates  `json:"coordinates,omitempty"`
	Value       string        `json:"value,omitempty"`
	Description string        `json:"description,omitempty"`
	Options     ActionOptions `json:"options,omitempty"`
	// RetryCount overrides the executor's configured retry bound when set.
	RetryCount *int `json:"retryCount,omitempty"`
	// TimeoutMs overrides the executor's per-action timeout when positive.
	TimeoutMs int `json:"timeout,omitempty"`
}

// HasTarget reports whether the action carries a selector or a coordinate pair.
func (a Action) HasTarget() bool {
	return (a.Selector != nil && a.Selector.Value != "") || a.Coordinates != nil
}

// Label returns a short human-readable description of the action.
func (a Action) Label() string {
	if a.Description != "" {
		return a.Description
	}
	switch {
	case a.Type == ActionNavigate:
		return "navigate to " + a.Value
	case a.Selector != nil && a.Selector.Value != "":
		return string(a.Type) + " " + a.Selector.Value
	default:
		return string(a.Type)
	}
}

// ActionResult is the outcome of executing one Action.
type ActionResult struct {
	ActionID   string        `json:"actionId"`
	Success    bool          `json:"success"`
	Data       any           `json:"data,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  string        `json:"errorCode,omitempty"`
	Screenshot string        `json:"screenshot,omitempty"`
	URL        string        `json:"url,omitempty"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Timestamp  time.Time     `json:"timestamp"`
}
