package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/llm"
	"github.com/kestrelqa/kestrel/types"
)

// Scenario is one natural-language test case.
type Scenario struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Objective string `json:"objective" yaml:"objective"`
	StartURL  string `json:"start_url,omitempty" yaml:"start_url,omitempty"`
}

// Planner produces an initial plan for a scenario.
type Planner interface {
	Plan(ctx context.Context, scenario *Scenario) (*types.Plan, error)
}

// LLMPlanner asks a completion model to decompose a scenario into steps.
type LLMPlanner struct {
	client llm.Client
	logger *zap.Logger
}

// NewLLMPlanner creates the base planner.
func NewLLMPlanner(client llm.Client, logger *zap.Logger) *LLMPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMPlanner{
		client: client,
		logger: logger.With(zap.String("component", "planner")),
	}
}

const planSystemPrompt = `You are a browser test planner. Decompose the scenario into ordered steps.
Reply with JSON only:
{"steps": [{"id": "s1", "description": "...", "action": {"name": "...", "arguments": {...}}}]}
Allowed action names: navigate (url), click (description), type (description, text),
hover (description), wait (selector or duration), and verify_<target>_<operation>
(e.g. verify_title_contains, verify_element_visible, verify_url_not_contains) with
arguments selector/text/value as appropriate.`

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, scenario *Scenario) (*types.Plan, error) {
	prompt := fmt.Sprintf("Scenario: %s\nObjective: %s", scenario.Name, scenario.Objective)
	if scenario.StartURL != "" {
		prompt += "\nStart URL: " + scenario.StartURL
	}
	raw, err := p.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	steps, err := decodeSteps(raw)
	if err != nil {
		return nil, err
	}
	plan := types.NewPlan(scenario.ID, steps)
	p.logger.Info("plan created",
		zap.String("plan_id", plan.ID),
		zap.String("scenario", scenario.Name),
		zap.Int("steps", len(steps)))
	return plan, nil
}

// decodeSteps validates the loosely-typed model payload into steps. Any
// shape mismatch is rejected rather than trusted.
func decodeSteps(raw string) ([]types.Step, error) {
	var resp struct {
		Steps []types.Step `json:"steps"`
		Error string       `json:"error"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return nil, types.Errorf(types.ErrValidation, "malformed plan response: %v", err)
	}
	if resp.Error != "" {
		return nil, types.Errorf(types.ErrValidation, "planner reported: %s", resp.Error)
	}
	if len(resp.Steps) == 0 {
		return nil, types.NewError(types.ErrValidation, "plan has no steps")
	}
	for i := range resp.Steps {
		step := &resp.Steps[i]
		if step.Action.Name == "" {
			return nil, types.Errorf(types.ErrValidation, "step %d missing action name", i+1)
		}
		if !knownAction(step.Action.Name) {
			return nil, types.Errorf(types.ErrValidation, "step %d has unknown action %q", i+1, step.Action.Name)
		}
		if step.ID == "" {
			step.ID = fmt.Sprintf("s%d", i+1)
		}
	}
	return resp.Steps, nil
}

func knownAction(name string) bool {
	switch name {
	case "navigate", "click", "type", "hover", "wait":
		return true
	}
	return strings.HasPrefix(name, "verify_")
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}
