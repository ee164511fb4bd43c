// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// ErrBlocked is returned when the provider refuses to answer on safety grounds.
var ErrBlocked = errors.New("response blocked by provider")

const pngMIME = "image/png"

// GeminiClient implements schemas.LLMClient and schemas.VisionClient on the Gemini API.
type GeminiClient struct {
	client *genai.Client
	config config.LLMModelConfig
	logger *zap.Logger
	opts   clientOptions
}

var (
	_ schemas.LLMClient    = (*GeminiClient)(nil)
	_ schemas.VisionClient = (*GeminiClient)(nil)
)

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger, opts ...ClientOption) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model name is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.Endpoint
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.gemini"),
		opts:   buildOptions(opts),
	}, nil
}

// Generate sends a single-turn prompt and returns the text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	if len(req.ImagePNG) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.ImagePNG, pngMIME))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genConfig := c.generationConfig(req.SystemPrompt, float32(req.Options.Temperature), req.Options.MaxTokens)
	if req.Options.ForceJSONFormat {
		genConfig.ResponseMIMEType = "application/json"
	}

	resp, err := c.generate(ctx, contents, genConfig)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GenerateTurn runs one round of the computer-use loop and returns the model turn.
func (c *GeminiClient) GenerateTurn(ctx context.Context, req schemas.VisionRequest) (*schemas.Turn, error) {
	genConfig := c.generationConfig(req.SystemPrompt, c.config.Temperature, 0)
	genConfig.Tools = []*genai.Tool{{
		ComputerUse: &genai.ComputerUse{
			Environment:                 genai.EnvironmentBrowser,
			ExcludedPredefinedFunctions: req.ExcludedFunctions,
		},
	}}

	resp, err := c.generate(ctx, toGenaiContents(req.Transcript), genConfig)
	if err != nil {
		return nil, err
	}
	turn := fromGenaiContent(resp.Candidates[0].Content)
	return &turn, nil
}

// Close releases client resources. The underlying HTTP client needs no teardown.
func (c *GeminiClient) Close() error {
	return nil
}

func (c *GeminiClient) generationConfig(systemPrompt string, temperature float32, maxTokens int) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if systemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if c.config.TopP > 0 {
		genConfig.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		genConfig.TopK = genai.Ptr(float32(c.config.TopK))
	}
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		genConfig.MaxOutputTokens = int32(maxTokens)
	}
	return genConfig
}

// generate calls the API with retries on transient failures.
func (c *GeminiClient) generate(ctx context.Context, contents []*genai.Content, genConfig *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var result *genai.GenerateContentResponse

	operation := func() error {
		if err := c.opts.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, genConfig)
		duration := time.Since(startTime)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !isTransientGeminiError(err) {
				return backoff.Permanent(fmt.Errorf("gemini API error: %w", err))
			}
			c.logger.Warn("Transient error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("gemini API error: %w", err)
		}

		if len(resp.Candidates) == 0 {
			if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				return backoff.Permanent(fmt.Errorf("%w (reason: %s)", ErrBlocked, resp.PromptFeedback.BlockReason))
			}
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			switch candidate.FinishReason {
			case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
				return backoff.Permanent(fmt.Errorf("%w (reason: %s)", ErrBlocked, candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)
		}

		fields := []zap.Field{zap.String("model", c.config.Model), zap.Duration("duration", duration)}
		if usage := resp.UsageMetadata; usage != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)

		result = resp
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.opts.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func isTransientGeminiError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Transport failures carry no status code.
	return true
}

func toGenaiContents(turns []schemas.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			switch {
			case p.FunctionCall != nil:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case p.FunctionResponse != nil:
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.FunctionResponse.ID,
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}})
			case len(p.ImagePNG) > 0:
				parts = append(parts, genai.NewPartFromBytes(p.ImagePNG, pngMIME))
			case p.Text != "":
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: string(turn.Role), Parts: parts})
	}
	return contents
}

func fromGenaiContent(content *genai.Content) schemas.Turn {
	turn := schemas.Turn{Role: schemas.RoleModel}
	if content == nil {
		return turn
	}
	for _, p := range content.Parts {
		switch {
		case p == nil, p.Thought:
			continue
		case p.FunctionCall != nil:
			turn.Parts = append(turn.Parts, schemas.Part{FunctionCall: &schemas.FunctionCall{
				ID:   p.FunctionCall.ID,
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			}})
		case p.Text != "":
			turn.Parts = append(turn.Parts, schemas.Part{Text: p.Text})
		}
	}
	return turn
}
