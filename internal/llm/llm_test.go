package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderSelection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"openai", Config{Provider: "openai", APIKey: "k"}, ""},
		{"openrouter", Config{Provider: "openrouter", APIKey: "k"}, ""},
		{"ollama", Config{Provider: "ollama"}, ""},
		{"anthropic", Config{Provider: "anthropic", APIKey: "k"}, ""},
		{"custom with base url", Config{Provider: "custom", BaseURL: "http://gateway:8080/v1"}, ""},
		{"custom without base url", Config{Provider: "custom"}, "requires a base URL"},
		{"case insensitive", Config{Provider: "OpenAI", APIKey: "k"}, ""},
		{"empty", Config{}, "no model provider configured"},
		{"unknown", Config{Provider: "gemini"}, `unknown model provider "gemini"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestNewDefaultMaxTokens(t *testing.T) {
	client, err := New(Config{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	ac, ok := client.(*anthropicClient)
	require.True(t, ok)
	assert.Equal(t, defaultMaxTokens, ac.maxTokens)
}
