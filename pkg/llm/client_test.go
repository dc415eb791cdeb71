package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"docqa-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChat_SendsRolesAndReturnsContent(t *testing.T) {
	var got struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "grounded answer"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), config.LLMConfig{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		Model:          "test-model",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", out)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "q2", got.Messages[3].Content)
}

func TestChat_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), config.LLMConfig{BaseURL: srv.URL, Model: "m", APIKey: "k", TimeoutSeconds: 5})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, nil)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(config.LLMGenerationConfig{}))

	gp := FromConfig(config.LLMGenerationConfig{Temperature: 0.3, MaxTokens: 30})
	require.NotNil(t, gp)
	assert.InDelta(t, 0.3, *gp.Temperature, 1e-9)
	assert.Nil(t, gp.TopP)
	assert.Equal(t, 30, *gp.MaxTokens)
}
