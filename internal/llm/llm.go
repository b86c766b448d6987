package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable is returned when the completion service cannot produce a result
	// (network, auth or quota failure, or an empty reply).
	ErrUnavailable = errors.New("completion service unavailable")
	// ErrMissingCredential is returned by New when no API key is configured.
	ErrMissingCredential = errors.New("API key not found")
)

// Provider names a completion backend.
type Provider string

const (
	// ProviderGemini talks to Google's Gemini API.
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI talks to any OpenAI-compatible chat completions endpoint.
	ProviderOpenAI Provider = "openai"
)

// Default model names per provider.
const (
	DefaultGeminiModel = "gemini-3-flash-preview"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Oracle maps a prompt (and optional context blob) to free text.
// Implementations make exactly one attempt per call.
type Oracle interface {
	Complete(ctx context.Context, instruction, contextText string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider    Provider
	BaseURL     string // OpenAI-compatible endpoints only
	APIKey      string
	Model       string
	Temperature float32
}

// IsValidProvider checks if a provider name is supported.
func IsValidProvider(p string) bool {
	switch Provider(p) {
	case ProviderGemini, ProviderOpenAI:
		return true
	}
	return false
}

// New creates the oracle for the configured provider.
func New(ctx context.Context, cfg Config) (Oracle, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	switch cfg.Provider {
	case ProviderGemini, "":
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// Ping runs the provider's health check if it has one.
func Ping(ctx context.Context, o Oracle) error {
	p, ok := o.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// ComposePrompt joins an instruction and its context the way every provider sends it.
func ComposePrompt(instruction, contextText string) string {
	if contextText == "" {
		return instruction
	}
	return instruction + "\n\nContext:\n" + contextText
}

func unavailable(provider Provider, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, provider, err)
}
