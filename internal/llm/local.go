package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LocalStrategy asks a locally hosted model for the analysis. The raw model
// text is returned as-is; the normalizer handles its shape.
type LocalStrategy struct {
	generator Generator
}

// NewLocalStrategy wraps a generator.
func NewLocalStrategy(generator Generator) *LocalStrategy {
	return &LocalStrategy{generator: generator}
}

func (l *LocalStrategy) Name() string { return coreprocessor.ProvenanceLocal }

func (l *LocalStrategy) Generate(ctx context.Context, payload coreprocessor.Payload) (any, error) {
	text, err := l.generator.Generate(ctx, BuildPrompt(payload))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("local model returned empty text")
	}
	return text, nil
}

// LocalOptions configures the local model backend.
type LocalOptions struct {
	Backend string // ollama | openai
	Model   string
	BaseURL string
	APIKey  string
}

// NewGenerator builds the generator for the configured backend.
func NewGenerator(opts LocalOptions) (Generator, error) {
	switch opts.Backend {
	case "ollama":
		return NewOllamaGenerator(opts.BaseURL, opts.Model)
	case "openai":
		return NewOpenAIGenerator(opts.BaseURL, opts.APIKey, opts.Model), nil
	default:
		return nil, fmt.Errorf("unsupported local backend %q", opts.Backend)
	}
}

// OllamaGenerator calls an Ollama server through langchaingo.
type OllamaGenerator struct {
	llm llms.Model
}

// NewOllamaGenerator creates a generator for an Ollama server.
func NewOllamaGenerator(baseURL, model string) (*OllamaGenerator, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	llm, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
		ollama.WithFormat("json"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return &OllamaGenerator{llm: llm}, nil
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, llms.WithTemperature(0.2))
}

// OpenAIGenerator calls any OpenAI-compatible chat completion server
// (llama.cpp, vLLM, LM Studio).
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator for an OpenAI-compatible endpoint.
func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
