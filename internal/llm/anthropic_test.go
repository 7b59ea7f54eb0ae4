package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicTestServer(t *testing.T, status int, reply any, captured *anthropicRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
}

func TestAnthropicChat(t *testing.T) {
	var req anthropicRequest
	srv := anthropicTestServer(t, http.StatusOK, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": "first"},
			{"type": "tool_use", "text": ""},
			{"type": "text", "text": "second"},
		},
	}, &req)
	defer srv.Close()

	client := newAnthropicClient(Config{APIKey: "test-key", Model: "claude-x", BaseURL: srv.URL, MaxTokens: 1000})
	got, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "again"},
	})
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", got)

	// The system turn travels in its own field, not the message list.
	assert.Equal(t, "be terse", req.System)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "claude-x", req.Model)
	assert.Equal(t, 1000, req.MaxTokens)
}

func TestAnthropicChatAPIError(t *testing.T) {
	srv := anthropicTestServer(t, http.StatusBadRequest, map[string]any{
		"error": map[string]any{"type": "invalid_request_error", "message": "max_tokens required"},
	}, nil)
	defer srv.Close()

	client := newAnthropicClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Contains(t, err.Error(), "max_tokens required")
}

func TestAnthropicChatNoText(t *testing.T) {
	srv := anthropicTestServer(t, http.StatusOK, map[string]any{
		"content": []map[string]any{},
	}, nil)
	defer srv.Close()

	client := newAnthropicClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text")
}

func TestAnthropicDefaults(t *testing.T) {
	client := newAnthropicClient(Config{APIKey: "k"})
	assert.Equal(t, anthropicBaseURL, client.baseURL)
	assert.Equal(t, defaultClaude, client.model)
}
