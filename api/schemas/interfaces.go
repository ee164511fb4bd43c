package schemas

import (
	"context"
	"time"
)

// -- Store Interface --

// Store is the durable record of sessions, tasks, logs and screenshots.
// Updates are issued after the corresponding in-memory transition; no
// cross-record transactional guarantees are required.
type Store interface {
	CreateSession(ctx context.Context, session *AgentSession) error
	UpdateSession(ctx context.Context, session *AgentSession) error
	GetSession(ctx context.Context, id string) (*AgentSession, error)
	// SaveTasks upserts the tasks of a session keyed by (session, position).
	SaveTasks(ctx context.Context, sessionID string, tasks []AgentTask) error
	AppendLog(ctx context.Context, sessionID string, entry LogEntry) error
	SaveScreenshot(ctx context.Context, shot *AgentScreenshot) error
	Close()
}

// -- Browser Interfaces --

// TypeOptions tunes text entry.
type TypeOptions struct {
	Delay      time.Duration // Delay between keystrokes; zero sends the text at once.
	Clear      bool          // Clear the field before typing.
	PressEnter bool          // Press Enter after typing.
}

// BrowserSession controls exactly one browser instance and its page.
//
//go:generate mockery --name BrowserSession --output ../../internal/mocks --outpkg mocks
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Click(ctx context.Context, sel Selector) error
	Type(ctx context.Context, sel Selector, text string, opts TypeOptions) error
	Hover(ctx context.Context, sel Selector) error
	Select(ctx context.Context, sel Selector, value string) error
	PressKey(ctx context.Context, combo string) error
	Scroll(ctx context.Context, direction string, amount int) error
	ClickAt(ctx context.Context, x, y float64) error
	HoverAt(ctx context.Context, x, y float64) error
	TypeAt(ctx context.Context, x, y float64, text string, opts TypeOptions) error
	ScrollAt(ctx context.Context, x, y float64, direction string, amount int) error
	WaitForSelector(ctx context.Context, sel Selector) error
	WaitForLoad(ctx context.Context) error
	Sleep(ctx context.Context, d time.Duration) error
	ExtractText(ctx context.Context, sel Selector) (string, error)
	Screenshot(ctx context.Context) (string, error) // base64 PNG
	AnalyzePage(ctx context.Context) (*PageAnalysis, error)
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// SessionProvider resolves browser sessions by id.
type SessionProvider interface {
	Session(id string) (BrowserSession, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls text generation.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	MaxTokens       int     `json:"max_tokens"`
}

// GenerationRequest is a single-turn request to a text (optionally image) model.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	ImagePNG     []byte            `json:"-"` // Optional inline image.
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is a text-generation reasoning engine.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// VisionRequest is one round-trip of the computer-use loop.
type VisionRequest struct {
	SystemPrompt string
	Transcript   []Turn
	ScreenWidth  int
	ScreenHeight int
	// ExcludedFunctions names predefined browser functions the engine must not propose.
	ExcludedFunctions []string
}

// VisionClient is a multimodal, function-calling reasoning engine.
type VisionClient interface {
	GenerateTurn(ctx context.Context, req VisionRequest) (*Turn, error)
	Close() error
}
