package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel       = "openai/gpt-4o-mini"
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
)

// ErrEmptyResponse — LLM не вернул ни одного варианта ответа.
var ErrEmptyResponse = errors.New("llm returned no choices")

// Request — запрос к LLM.
type Request struct {
	SystemPrompt string
	Prompt       string

	// JSON — требовать ответ в виде JSON-объекта.
	JSON bool
}

// Generator — текстовая генерация по промпту.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OpenAIConfig — конфигурация OpenAIGenerator.
type OpenAIConfig struct {
	APIKey string

	// BaseURL — OpenAI-совместимый endpoint. Пустой — api.openai.com.
	BaseURL string

	Model       string
	Temperature float32
	MaxTokens   int

	Logger *slog.Logger
}

// OpenAIGenerator — Generator поверх go-openai.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAIGenerator создаёт генератор. Требует APIKey.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	g := &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}
	if g.model == "" {
		g.model = defaultModel
	}
	if g.temperature == 0 {
		g.temperature = defaultTemperature
	}
	if g.maxTokens == 0 {
		g.maxTokens = defaultMaxTokens
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	g.logger.Info("llm generator initialized", "model", g.model, "base_url", clientCfg.BaseURL)
	return g, nil
}

// Generate выполняет chat completion и возвращает текст первого варианта.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("llm response received",
		"model", g.model,
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}
