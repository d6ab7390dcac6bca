package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewOpenAIClient(OpenAIConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		DefaultModel: "gpt-4o-mini",
	}, zap.NewNop())
	return srv, client
}

func TestOpenAIClient_Complete(t *testing.T) {
	var captured chatCompletionRequest
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"steps":[]}`}, "finish_reason": "stop"},
			},
		})
	})

	got, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "plan it"}},
		JSONMode: true,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"steps":[]}`, got)
	assert.Equal(t, "gpt-4o-mini", captured.Model, "default model applied")
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
}

func TestOpenAIClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		})

		_, err := client.Complete(context.Background(), &CompletionRequest{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})

		require.Error(t, err, tt.status)
		assert.Equal(t, tt.retryable, types.IsRetryable(err), "status %d", tt.status)
		assert.Contains(t, err.Error(), "nope")
	}
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})

	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}
