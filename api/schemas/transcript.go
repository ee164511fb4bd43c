package schemas

// TurnRole identifies the author of a transcript turn.
type TurnRole string

const (
	RoleUser  TurnRole = "user"
	RoleModel TurnRole = "model"
)

// FunctionCall is a structured action proposal from the reasoning engine.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse reports the outcome of a FunctionCall back to the engine.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Part is one element of a multimodal turn. Exactly one field is expected to be set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	ImagePNG         []byte            `json:"image_png,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// Turn is one role-tagged entry of a vision-loop transcript.
type Turn struct {
	Role  TurnRole `json:"role"`
	Parts []Part   `json:"parts"`
}

// Text concatenates all text parts of the turn.
func (t Turn) Text() string {
	var out string
	for _, p := range t.Parts {
		if p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// FunctionCalls returns the function calls of the turn in order.
func (t Turn) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range t.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}
