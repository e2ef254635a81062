package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mikeboe/deep-research/pkg/config"
)

// ModelType names a reasoning model.
type ModelType string

const (
	DefaultGoogleModel    ModelType = "gemini-3-flash-preview"
	DefaultOpenAIModel    ModelType = "gpt-4o"
	DefaultAnthropicModel ModelType = "claude-sonnet-4-20250514"
)

var errMissingKey = errors.New("missing API key")

// NewLLM builds the reasoning model selected by cfg.LLMProvider.
func NewLLM(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case "google":
		return GoogleAi(ctx, cfg.GoogleAPIKey, ModelType(cfg.ReasoningModel))
	case "anthropic":
		return AnthropicAI(cfg.AnthropicAPIKey, ModelType(cfg.ReasoningModel))
	case "openai", "":
		return OpenAI(cfg.OpenAIAPIKey, ModelType(cfg.ReasoningModel))
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLMProvider)
	}
}

func GoogleAi(ctx context.Context, apiKey string, model ModelType) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google: %w (GOOGLE_API_KEY)", errMissingKey)
	}
	if model == "" {
		model = DefaultGoogleModel
	}

	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return llm, nil
}

func OpenAI(apiKey string, model ModelType) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w (OPENAI_API_KEY)", errMissingKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	llm, err := openai.New(openai.WithToken(apiKey), openai.WithModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return llm, nil
}

func AnthropicAI(apiKey string, model ModelType) (*anthropic.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w (ANTHROPIC_API_KEY)", errMissingKey)
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	llm, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic client: %w", err)
	}
	return llm, nil
}
