package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient wraps Google's generative AI client.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini creates a Gemini client authenticated with an API key.
func NewGemini(ctx context.Context, apiKey, modelName string, temperature float32) (*GeminiClient, error) {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &GeminiClient{
		client:      client,
		model:       modelName,
		temperature: temperature,
	}, nil
}

// Complete sends the prompt and concatenates the text parts of the first candidate.
func (g *GeminiClient) Complete(ctx context.Context, instruction, contextText string) (string, error) {
	prompt := ComposePrompt(instruction, contextText)
	start := time.Now()

	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(g.temperature)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", unavailable(ProviderGemini, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", unavailable(ProviderGemini, errors.New("no content generated"))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	raw := sb.String()
	slog.Debug("LLM response",
		"provider", ProviderGemini,
		"model", g.model,
		"prompt_len", len(prompt),
		"response_len", len(raw),
		"elapsed", time.Since(start),
	)
	if strings.TrimSpace(raw) == "" {
		return "", unavailable(ProviderGemini, errors.New("empty response"))
	}
	return raw, nil
}

// Ping fetches the model metadata, which fails fast on a bad key or model name.
func (g *GeminiClient) Ping(ctx context.Context) error {
	if _, err := g.client.GenerativeModel(g.model).Info(ctx); err != nil {
		return fmt.Errorf("model info: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}
