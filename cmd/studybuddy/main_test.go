package main

import (
	"errors"
	"testing"

	"github.com/pavelanni/studybuddy/internal/llm"
)

func TestLLMConfig(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		env       map[string]string
		wantKey   string
		wantModel string
		wantErr   error
	}{
		{
			name:      "flag key",
			args:      []string{"--api-key", "flag-key"},
			wantKey:   "flag-key",
			wantModel: llm.DefaultGeminiModel,
		},
		{
			name:      "prefixed env",
			env:       map[string]string{"STUDYBUDDY_API_KEY": "env-key"},
			wantKey:   "env-key",
			wantModel: llm.DefaultGeminiModel,
		},
		{
			name:      "google fallback",
			env:       map[string]string{"GOOGLE_API_KEY": "g-key"},
			wantKey:   "g-key",
			wantModel: llm.DefaultGeminiModel,
		},
		{
			name:      "openai fallback and model",
			args:      []string{"--provider", "openai", "--model", "llama3.2"},
			env:       map[string]string{"OPENAI_API_KEY": "o-key", "GOOGLE_API_KEY": "g-key"},
			wantKey:   "o-key",
			wantModel: "llama3.2",
		},
		{
			name:    "missing key",
			wantErr: llm.ErrMissingCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"STUDYBUDDY_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY", "STUDYBUDDY_PROVIDER", "STUDYBUDDY_MODEL"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			t.Chdir(t.TempDir())

			cmd := serveCmd()
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}
			cfg, err := llmConfig(viperForCmd(cmd))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("llmConfig: %v", err)
			}
			if cfg.APIKey != tt.wantKey || cfg.Model != tt.wantModel {
				t.Errorf("got key=%q model=%q, want key=%q model=%q", cfg.APIKey, cfg.Model, tt.wantKey, tt.wantModel)
			}
		})
	}
}

func TestLLMConfigRejectsUnknownProvider(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := serveCmd()
	if err := cmd.ParseFlags([]string{"--provider", "claude", "--api-key", "k"}); err != nil {
		t.Fatal(err)
	}
	if _, err := llmConfig(viperForCmd(cmd)); err == nil {
		t.Error("expected error for unknown provider")
	}
}
