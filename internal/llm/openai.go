package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

// NewOpenAI creates a client for an OpenAI-compatible endpoint.
func NewOpenAI(baseURL, apiKey, modelName string, temperature float32) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		temperature: temperature,
	}
}

// Complete sends the prompt as a single user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, instruction, contextText string) (string, error) {
	prompt := ComposePrompt(instruction, contextText)
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", unavailable(ProviderOpenAI, err)
	}

	if len(resp.Choices) == 0 {
		return "", unavailable(ProviderOpenAI, errors.New("no choices returned"))
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response",
		"provider", ProviderOpenAI,
		"model", c.model,
		"prompt_len", len(prompt),
		"response_len", len(raw),
		"elapsed", time.Since(start),
	)
	if strings.TrimSpace(raw) == "" {
		return "", unavailable(ProviderOpenAI, errors.New("empty response"))
	}
	return raw, nil
}

// Ping checks that the endpoint answers and accepts the credential.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
