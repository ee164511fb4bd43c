// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// OpenAIClient implements schemas.LLMClient for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	client openai.Client
	config config.LLMModelConfig
	logger *zap.Logger
	opts   clientOptions
}

var _ schemas.LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient initializes the client. A custom endpoint points it at any compatible server.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger, opts ...ClientOption) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("OpenAI model name is required")
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled here so they share the rate limiter.
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
	}
	if cfg.Endpoint != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(cfg.Endpoint))
	}

	return &OpenAIClient{
		client: openai.NewClient(requestOptions...),
		config: cfg,
		logger: logger.Named("llm_client.openai"),
		opts:   buildOptions(opts),
	}, nil
}

// Generate sends the prompts as a chat completion and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)

	var content string
	operation := func() error {
		if err := c.opts.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		startTime := time.Now()
		completion, err := c.client.Chat.Completions.New(ctx, params)
		duration := time.Since(startTime)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !isTransientOpenAIError(err) {
				return backoff.Permanent(fmt.Errorf("openai API error: %w", err))
			}
			c.logger.Warn("Transient error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("openai API error: %w", err)
		}

		if len(completion.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openai API returned no choices"))
		}
		choice := completion.Choices[0]
		if choice.FinishReason == "content_filter" {
			return backoff.Permanent(fmt.Errorf("%w (reason: %s)", ErrBlocked, choice.FinishReason))
		}

		c.logger.Info("LLM generation complete (OpenAI)",
			zap.String("model", c.config.Model),
			zap.Duration("duration", duration),
			zap.Int64("prompt_tokens", completion.Usage.PromptTokens),
			zap.Int64("completion_tokens", completion.Usage.CompletionTokens),
			zap.Int64("total_tokens", completion.Usage.TotalTokens),
		)
		content = choice.Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.opts.newBackOff(), ctx)); err != nil {
		return "", err
	}
	return content, nil
}

// Close is a no-op; the SDK holds no long-lived resources.
func (c *OpenAIClient) Close() error {
	return nil
}

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	if len(req.ImagePNG) > 0 {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.ImagePNG)
		messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.UserPrompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}))
	} else {
		messages = append(messages, openai.UserMessage(req.UserPrompt))
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.config.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Options.Temperature),
	}
	if c.config.TopP > 0 {
		params.TopP = openai.Float(float64(c.config.TopP))
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if req.Options.ForceJSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func isTransientOpenAIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return true
}
