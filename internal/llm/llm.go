// Package llm abstracts the chat model behind a single-method client.
// OpenAI-compatible endpoints (OpenAI, OpenRouter, Ollama, anything
// custom) share one implementation; Anthropic's Messages API gets its
// own.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    string
	Content string
}

// ChatClient sends a conversation and returns the assistant's text.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider  string // openai, openrouter, ollama, anthropic, custom
	APIKey    string
	Model     string
	BaseURL   string // required for custom, optional override otherwise
	MaxTokens int
}

const defaultMaxTokens = 4096

// New builds a ChatClient for the configured provider.
func New(cfg Config) (ChatClient, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg), nil
	case "openrouter":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://openrouter.ai/api/v1"
		}
		return newOpenAIClient(cfg), nil
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434/v1"
		}
		return newOpenAIClient(cfg), nil
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("custom provider requires a base URL")
		}
		return newOpenAIClient(cfg), nil
	case "anthropic":
		return newAnthropicClient(cfg), nil
	case "":
		return nil, fmt.Errorf("no model provider configured")
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
