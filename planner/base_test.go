package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/testutil/mocks"
	"github.com/kestrelqa/kestrel/types"
)

func TestLLMPlanner_Plan(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{
		"steps": [
			{"id": "s1", "description": "open the site", "action": {"name": "navigate", "arguments": {"url": "https://example.com"}}},
			{"description": "click login", "action": {"name": "click", "arguments": {"description": "the login button"}}},
			{"description": "check title", "action": {"name": "verify_title_contains", "arguments": {"value": "Example"}}}
		]
	}`)
	p := NewLLMPlanner(client, zap.NewNop())

	plan, err := p.Plan(context.Background(), &Scenario{
		ID:        "sc-1",
		Name:      "login flow",
		Objective: "log in and land on the dashboard",
		StartURL:  "https://example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "sc-1", plan.ScenarioID)
	assert.Equal(t, types.PhaseInitial, plan.Phase)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "s1", plan.Steps[0].ID)
	// Missing ids are filled in positionally.
	assert.Equal(t, "s2", plan.Steps[1].ID)
	assert.Equal(t, "s3", plan.Steps[2].ID)
	assert.Equal(t, types.KindVerify, plan.Steps[2].Kind())

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Request.Messages[1].Content, "login flow")
	assert.True(t, calls[0].Request.JSONMode)
}

func TestLLMPlanner_MalformedJSON(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses("no json here")
	p := NewLLMPlanner(client, zap.NewNop())

	_, err := p.Plan(context.Background(), &Scenario{ID: "sc-1", Name: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestLLMPlanner_EmptyPlanRejected(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{"steps": []}`)
	p := NewLLMPlanner(client, zap.NewNop())

	_, err := p.Plan(context.Background(), &Scenario{ID: "sc-1", Name: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestLLMPlanner_UnknownActionRejected(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{
		"steps": [{"description": "x", "action": {"name": "teleport"}}]
	}`)
	p := NewLLMPlanner(client, zap.NewNop())

	_, err := p.Plan(context.Background(), &Scenario{ID: "sc-1", Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestLLMPlanner_FencedJSON(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(
		"```json\n{\"steps\": [{\"description\": \"x\", \"action\": {\"name\": \"wait\"}}]}\n```")
	p := NewLLMPlanner(client, zap.NewNop())

	plan, err := p.Plan(context.Background(), &Scenario{ID: "sc-1", Name: "x"})
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)
}
