// Package model provides the reasoning-model client used by the matching
// engine.
//
// The client is synchronous from the engine's point of view; the engine is
// responsible for imposing the call timeout via context.
package model

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// Client generates a structured completion for a system/user prompt pair.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config holds reasoning-model configuration.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint. Empty uses the provider
	// default.
	BaseURL string `koanf:"base_url"`

	// Model is the model name to request.
	Model string `koanf:"model"`

	// APIKey authenticates against the endpoint.
	APIKey string `koanf:"api_key"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model name required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("model API key required")
	}
	return nil
}

// LLMClient is a langchaingo-backed Client against any OpenAI-compatible
// chat completion endpoint.
type LLMClient struct {
	llm    llms.Model
	logger *zap.Logger
}

// NewLLMClient creates a reasoning-model client from config.
func NewLLMClient(cfg Config, logger *zap.Logger) (*LLMClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	return &LLMClient{llm: llm, logger: logger}, nil
}

// Complete sends the prompt pair and returns the raw completion text.
// JSON mode is requested so the engine can parse the response structurally.
func (c *LLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := c.llm.GenerateContent(ctx, messages, llms.WithJSONMode())
	if err != nil {
		return "", fmt.Errorf("model completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	c.logger.Debug("model completion received",
		zap.Int("prompt_len", len(userPrompt)),
		zap.Int("response_len", len(resp.Choices[0].Content)))

	return resp.Choices[0].Content, nil
}
