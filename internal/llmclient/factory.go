// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// NewClient creates a text LLMClient for one model configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger, opts ...ClientOption) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger, opts...)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger, opts...)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]", cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
}

// NewVisionClient creates the computer-use client. Only Gemini models offer the browser environment.
func NewVisionClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger, opts ...ClientOption) (schemas.VisionClient, error) {
	if cfg.Provider != config.ProviderGemini {
		return nil, fmt.Errorf("provider '%s' does not support the vision loop; use %s", cfg.Provider, config.ProviderGemini)
	}
	return NewGeminiClient(ctx, cfg, logger, opts...)
}

// NewRouterFromConfig builds a tiered router. Both tiers share one rate limiter,
// and a model named by both defaults is instantiated once.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger, opts ...ClientOption) (*LLMRouter, error) {
	opts = append([]ClientOption{WithLimiter(NewLimiter(cfg.RequestsPerMinute))}, opts...)

	built := make(map[string]schemas.LLMClient, 2)
	build := func(alias string) (schemas.LLMClient, error) {
		if client, ok := built[alias]; ok {
			return client, nil
		}
		modelCfg, ok := cfg.Models[alias]
		if !ok {
			return nil, fmt.Errorf("model %q is not defined in llm.models", alias)
		}
		client, err := NewClient(ctx, modelCfg, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for model %q: %w", alias, err)
		}
		built[alias] = client
		return client, nil
	}

	fast, err := build(cfg.DefaultFastModel)
	if err != nil {
		return nil, err
	}
	powerful, err := build(cfg.DefaultPowerfulModel)
	if err != nil {
		return nil, err
	}
	return NewLLMRouter(logger, fast, powerful)
}
