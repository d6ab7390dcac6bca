package kestrel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelqa/kestrel"
	"github.com/kestrelqa/kestrel/planner"
	"github.com/kestrelqa/kestrel/testutil/mocks"
	"github.com/kestrelqa/kestrel/types"
)

const dashboardPlan = `{
  "steps": [
    {"id": "s1", "description": "open the dashboard",
     "action": {"name": "navigate", "arguments": {"url": "https://example.test/"}}},
    {"id": "s2", "description": "click the submit button",
     "action": {"name": "click", "arguments": {"selector": "#submit"}}},
    {"id": "s3", "description": "verify the page title",
     "action": {"name": "verify_title_equals", "arguments": {"value": "Dashboard"}}}
  ]
}`

func TestSessionRunsScenarioEndToEnd(t *testing.T) {
	drv := mocks.NewMockDriver().
		WithPage("https://example.test/", "Dashboard", "<html><body>dash</body></html>").
		WithStructure("<button> id=submit text=Submit").
		AddElement("#submit", mocks.MockElement{
			Count: 1, Visible: true, Tag: "button", Text: "Submit",
		})
	client := mocks.NewMockCompletion().
		WithResponses(dashboardPlan, `{"refinements": []}`)

	session, err := kestrel.New(
		kestrel.WithDriver(drv),
		kestrel.WithClient(client),
	)
	require.NoError(t, err)
	defer session.Close()

	report, err := session.Run(context.Background(), &planner.Scenario{
		ID:        "sc-1",
		Name:      "dashboard smoke",
		Objective: "open the dashboard, submit, and verify the title",
	})
	require.NoError(t, err)

	assert.True(t, report.Passed)
	require.Len(t, report.Results, 3)
	for _, res := range report.Results {
		assert.Equal(t, types.StatusSuccess, res.Status)
	}
	assert.Equal(t, []string{"https://example.test/"}, drv.Navigations)
	require.Len(t, drv.Interactions, 1)
	assert.Equal(t, "click", drv.Interactions[0].Kind)
	assert.Equal(t, "#submit", drv.Interactions[0].Selector)
	// plan + one refinement round
	assert.Equal(t, 2, client.CallCount())
}

func TestSessionCloseLeavesInjectedDriverOpen(t *testing.T) {
	drv := mocks.NewMockDriver()
	session, err := kestrel.New(
		kestrel.WithDriver(drv),
		kestrel.WithClient(mocks.NewMockCompletion()),
	)
	require.NoError(t, err)
	assert.NoError(t, session.Close())
}
