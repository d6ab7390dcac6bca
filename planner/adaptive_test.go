package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/config"
	"github.com/kestrelqa/kestrel/internal/cache"
	"github.com/kestrelqa/kestrel/resilience"
	"github.com/kestrelqa/kestrel/testutil/mocks"
	"github.com/kestrelqa/kestrel/types"
)

type stubBase struct{ plan *types.Plan }

func (s *stubBase) Plan(ctx context.Context, scenario *Scenario) (*types.Plan, error) {
	return s.plan, nil
}

type stubLocator struct {
	res   *types.ElementDiscoveryResult
	err   error
	calls int
}

func (s *stubLocator) Locate(ctx context.Context, description string, kind types.ActionKind, hint string) (*types.ElementDiscoveryResult, error) {
	s.calls++
	return s.res, s.err
}

func threeStepPlan() *types.Plan {
	return types.NewPlan("sc-1", []types.Step{
		{ID: "s1", Description: "open site", Action: types.Action{Name: "navigate", Arguments: map[string]string{"url": "https://example.com"}}},
		{ID: "s2", Description: "click login", Action: types.Action{Name: "click", Arguments: map[string]string{"description": "the login button", "selector": "#old-login"}}},
		{ID: "s3", Description: "type email", Action: types.Action{Name: "type", Arguments: map[string]string{"description": "the email field", "text": "a@b.c"}}},
	})
}

func newAdaptive(client *mocks.MockCompletion, drv *mocks.MockDriver, loc Locator) *AdaptivePlanner {
	kernel := resilience.NewKernel(nil, zap.NewNop())
	structures := cache.New(cache.DefaultConfig(), zap.NewNop())
	return NewAdaptivePlanner(&stubBase{}, client, kernel, structures, loc, drv,
		config.DefaultConfig().Planner, zap.NewNop())
}

func pageDriver() *mocks.MockDriver {
	return mocks.NewMockDriver().
		WithPage("https://example.com/login", "Login", "<html></html>").
		WithStructure(`#login=button "Log in"` + "\n" + `#email=input`)
}

func TestRefinePlan_RemovalsThenRefinements(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{
		"removedSteps": [{"stepId": "s2", "reason": "redundant"}],
		"refinements": [{"stepId": "s3", "selector": "#email", "confidence": 0.9, "reason": "input present"}]
	}`)
	p := newAdaptive(client, pageDriver(), &stubLocator{})
	plan := threeStepPlan()

	refined := p.RefinePlan(context.Background(), plan, nil)

	require.Len(t, refined.Steps, 2)
	assert.Equal(t, "s1", refined.Steps[0].ID)
	assert.Equal(t, "s3", refined.Steps[1].ID)
	assert.Equal(t, types.PhaseRefined, refined.Phase)

	require.NotNil(t, refined.Steps[1].ElementDiscovery)
	assert.Equal(t, "#email", refined.Steps[1].ElementDiscovery.Selector)
	assert.Equal(t, "plan_refinement", refined.Steps[1].ElementDiscovery.Strategy)

	require.Len(t, refined.RefinementHistory, 2)
	assert.Equal(t, "s2", refined.RefinementHistory[0].StepID)
	assert.Contains(t, refined.RefinementHistory[0].Reason, "redundant")
	assert.Equal(t, "s3", refined.RefinementHistory[1].StepID)

	// The caller's plan is untouched.
	assert.Len(t, plan.Steps, 3)
	assert.Equal(t, types.PhaseInitial, plan.Phase)
}

func TestRefinePlan_LowConfidenceLeftForRuntimeDiscovery(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{
		"refinements": [{"stepId": "s2", "selector": "#new-login", "confidence": 0.4, "reason": "weak guess"}]
	}`)
	p := newAdaptive(client, pageDriver(), &stubLocator{})

	refined := p.RefinePlan(context.Background(), threeStepPlan(), nil)

	assert.Nil(t, refined.Steps[1].ElementDiscovery)
	assert.Equal(t, types.PhaseRefined, refined.Phase)
	assert.Empty(t, refined.RefinementHistory)
}

func TestRefinePlan_NonInteractionStepNotRefined(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{
		"refinements": [{"stepId": "s1", "selector": "#whatever", "confidence": 0.9, "reason": "x"}]
	}`)
	p := newAdaptive(client, pageDriver(), &stubLocator{})

	refined := p.RefinePlan(context.Background(), threeStepPlan(), nil)
	assert.Nil(t, refined.Steps[0].ElementDiscovery)
}

func TestRefinePlan_CompletionFailureReturnsOriginal(t *testing.T) {
	client := mocks.NewMockCompletion().WithError(
		types.NewError(types.ErrFatal, "service unavailable"))
	p := newAdaptive(client, pageDriver(), &stubLocator{})
	plan := threeStepPlan()

	refined := p.RefinePlan(context.Background(), plan, nil)

	assert.Len(t, refined.Steps, 3)
	assert.Equal(t, types.PhaseRefined, refined.Phase)
	require.Len(t, refined.RefinementHistory, 1)
	assert.Contains(t, refined.RefinementHistory[0].Reason, "refinement failed")
}

func TestRefinePlan_MalformedResponseReturnsOriginal(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses("certainly! here is the refined plan:")
	p := newAdaptive(client, pageDriver(), &stubLocator{})

	refined := p.RefinePlan(context.Background(), threeStepPlan(), nil)

	assert.Len(t, refined.Steps, 3)
	assert.Equal(t, types.PhaseRefined, refined.Phase)
	require.Len(t, refined.RefinementHistory, 1)
}

func TestRefinePlan_ExecutedDigestInPrompt(t *testing.T) {
	client := mocks.NewMockCompletion().WithResponses(`{"refinements": []}`)
	p := newAdaptive(client, pageDriver(), &stubLocator{})

	p.RefinePlan(context.Background(), threeStepPlan(), []types.ExecutionResult{
		{StepID: "s1", Status: types.StatusSuccess},
		{StepID: "s2", Status: types.StatusFailure, Error: "element detached"},
	})

	calls := client.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Request.Messages[1].Content
	assert.Contains(t, prompt, "s1: success")
	assert.Contains(t, prompt, "s2: failure (element detached)")
	assert.Contains(t, prompt, "#login=button")
}

func TestRefinePlan_HistoryTrimmed(t *testing.T) {
	var removals string
	var steps []types.Step
	for i := 1; i <= 30; i++ {
		id := fmt.Sprintf("s%d", i)
		steps = append(steps, types.Step{
			ID: id, Description: id,
			Action: types.Action{Name: "click", Arguments: map[string]string{"description": id}},
		})
		if i > 1 {
			removals += ","
		}
		removals += fmt.Sprintf(`{"stepId": %q, "reason": "redundant"}`, id)
	}
	client := mocks.NewMockCompletion().WithResponses(
		fmt.Sprintf(`{"removedSteps": [%s]}`, removals))
	p := newAdaptive(client, pageDriver(), &stubLocator{})

	refined := p.RefinePlan(context.Background(), types.NewPlan("sc-1", steps), nil)

	assert.Len(t, refined.RefinementHistory, 20)
	// Oldest entries dropped first: the s1..s10 removals are gone.
	assert.Equal(t, "s11", refined.RefinementHistory[0].StepID)
}

func TestAdaptPlan_RepairsFailingStep(t *testing.T) {
	loc := &stubLocator{res: &types.ElementDiscoveryResult{
		Method:       types.MethodDOM,
		Selector:     "#new-login",
		Confidence:   0.8,
		Alternatives: []string{"button.login"},
		Strategy:     "structure_scoring",
	}}
	p := newAdaptive(mocks.NewMockCompletion(), pageDriver(), loc)
	plan := threeStepPlan()
	failed := &plan.Steps[1]
	failure := &types.ExecutionResult{StepID: "s2", Status: types.StatusFailure, Error: "element detached"}

	adapted := p.AdaptPlan(context.Background(), plan, failed, failure)

	assert.Equal(t, types.PhaseAdaptive, adapted.Phase)
	step := adapted.Steps[1]
	require.NotNil(t, step.ElementDiscovery)
	assert.Equal(t, "#new-login", step.ElementDiscovery.Selector)
	assert.Equal(t, "#old-login", step.OriginalSelector)
	assert.Equal(t, 1, step.RetryCount)
	require.Len(t, adapted.RefinementHistory, 1)
	assert.Contains(t, adapted.RefinementHistory[0].Reason, "element detached")

	// The caller's plan is untouched.
	assert.Nil(t, plan.Steps[1].ElementDiscovery)
	assert.Equal(t, types.PhaseInitial, plan.Phase)
}

func TestAdaptPlan_DiscoveryFailureKeepsPlan(t *testing.T) {
	loc := &stubLocator{err: types.NewError(types.ErrFatal, "breaker open")}
	p := newAdaptive(mocks.NewMockCompletion(), pageDriver(), loc)
	plan := threeStepPlan()

	adapted := p.AdaptPlan(context.Background(), plan, &plan.Steps[1], nil)

	assert.Same(t, plan, adapted)
	assert.Equal(t, types.PhaseInitial, adapted.Phase)
}

func TestAdaptPlan_NonInteractionIgnored(t *testing.T) {
	loc := &stubLocator{}
	p := newAdaptive(mocks.NewMockCompletion(), pageDriver(), loc)
	plan := threeStepPlan()

	adapted := p.AdaptPlan(context.Background(), plan, &plan.Steps[0], nil)

	assert.Same(t, plan, adapted)
	assert.Equal(t, 0, loc.calls)
}

func TestTruncateToBudget(t *testing.T) {
	p := newAdaptive(mocks.NewMockCompletion(), pageDriver(), &stubLocator{})
	p.cfg.StructureTokenBudget = 10

	long := ""
	for i := 0; i < 500; i++ {
		long += "selector entry "
	}
	out := p.truncateToBudget(long)
	assert.Less(t, len(out), len(long))

	short := "one line"
	assert.Equal(t, short, p.truncateToBudget(short))
}
