package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/internal/cache"
	"github.com/kestrelqa/kestrel/resilience"
	"github.com/kestrelqa/kestrel/testutil/mocks"
	"github.com/kestrelqa/kestrel/types"
)

func newLLMStrategy(client *mocks.MockCompletion) *LLMStrategy {
	kernel := resilience.NewKernel(nil, zap.NewNop())
	structures := cache.New(cache.DefaultConfig(), zap.NewNop())
	return NewLLMStrategy(client, kernel, structures, zap.NewNop())
}

func TestLLMStrategy_Discover(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(
		`{"selector": "#login", "confidence": 0.85, "alternatives": ["button.login"], "reasoning": "label match"}`,
	)
	drv := mocks.NewMockDriver().
		WithPage("https://example.com/login", "Login", "<html></html>").
		WithStructure(`#login=button "Log in"`)

	res, err := newLLMStrategy(client).Discover(context.Background(), drv, "the login button", types.KindClick)
	require.NoError(t, err)

	assert.Equal(t, types.MethodDOM, res.Method)
	assert.Equal(t, "#login", res.Selector)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.Equal(t, []string{"button.login"}, res.Alternatives)
	assert.Equal(t, "llm_dom_analyzer", res.Strategy)

	// The prompt must carry the extracted structure and the description.
	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Request.Messages[1].Content, `#login=button`)
	assert.Contains(t, calls[0].Request.Messages[1].Content, "the login button")
	assert.True(t, calls[0].Request.JSONMode)
}

func TestLLMStrategy_FencedJSON(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(
		"```json\n{\"selector\": \"#ok\", \"confidence\": 0.7}\n```",
	)
	drv := mocks.NewMockDriver().WithPage("https://example.com", "t", "<html></html>")

	res, err := newLLMStrategy(client).Discover(context.Background(), drv, "ok", types.KindClick)
	require.NoError(t, err)
	assert.Equal(t, "#ok", res.Selector)
}

func TestLLMStrategy_MalformedJSON(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses("not json at all")
	drv := mocks.NewMockDriver().WithPage("https://example.com", "t", "<html></html>")

	_, err := newLLMStrategy(client).Discover(context.Background(), drv, "x", types.KindClick)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestLLMStrategy_ModelReportsNotFound(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{"error": "not found"}`)
	drv := mocks.NewMockDriver().WithPage("https://example.com", "t", "<html></html>")

	_, err := newLLMStrategy(client).Discover(context.Background(), drv, "x", types.KindClick)
	require.Error(t, err)
	assert.Equal(t, types.ErrElementNotFound, types.GetErrorCode(err))
}

func TestLLMStrategy_MissingSelector(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{"confidence": 0.9}`)
	drv := mocks.NewMockDriver().WithPage("https://example.com", "t", "<html></html>")

	_, err := newLLMStrategy(client).Discover(context.Background(), drv, "x", types.KindClick)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestLLMStrategy_RetriesTransientFailures(t *testing.T) {
	client := mocks.NewMockCompletion().
		FailFirst(1, types.NewError(types.ErrTransient, "rate limit exceeded")).
		WithResponses(`{"selector": "#ok", "confidence": 0.8}`)
	drv := mocks.NewMockDriver().WithPage("https://example.com", "t", "<html></html>")

	res, err := newLLMStrategy(client).Discover(context.Background(), drv, "x", types.KindClick)
	require.NoError(t, err)
	assert.Equal(t, "#ok", res.Selector)
	assert.Equal(t, 2, client.CallCount())
}
