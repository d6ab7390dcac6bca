// Package runner orchestrates one scenario end to end: plan, refine
// against the first live page, execute steps strictly sequentially, and
// adapt failing steps before retrying them.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/planner"
	"github.com/kestrelqa/kestrel/types"
)

// StepExecutor runs one step against the session.
type StepExecutor interface {
	Execute(ctx context.Context, step *types.Step) *types.ExecutionResult
}

// ScenarioPlanner is the planning surface the runner consumes.
type ScenarioPlanner interface {
	Plan(ctx context.Context, scenario *planner.Scenario) (*types.Plan, error)
	RefinePlan(ctx context.Context, plan *types.Plan, executed []types.ExecutionResult) *types.Plan
	AdaptPlan(ctx context.Context, plan *types.Plan, failedStep *types.Step, failure *types.ExecutionResult) *types.Plan
}

// Config tunes the orchestration loop.
type Config struct {
	// MaxAdaptations bounds adapt-and-retry rounds per failing step.
	MaxAdaptations int `yaml:"max_adaptations"`
	// FailFast stops the run at the first step that stays failed.
	FailFast bool `yaml:"fail_fast"`
}

// Report is the outcome of one scenario run.
type Report struct {
	Scenario *planner.Scenario       `json:"scenario"`
	Plan     *types.Plan             `json:"plan"`
	Results  []types.ExecutionResult `json:"results"`
	Passed   bool                    `json:"passed"`
	Duration time.Duration           `json:"duration"`
}

// Runner drives one scenario against one browser session. Steps execute
// strictly sequentially; the session carries page state between them.
type Runner struct {
	planner  ScenarioPlanner
	executor StepExecutor
	cfg      Config
	logger   *zap.Logger
}

// New creates a runner.
func New(p ScenarioPlanner, ex StepExecutor, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAdaptations <= 0 {
		cfg.MaxAdaptations = 1
	}
	return &Runner{
		planner:  p,
		executor: ex,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "runner")),
	}
}

// Run executes a scenario and always returns a report when planning
// succeeded, even if steps failed.
func (r *Runner) Run(ctx context.Context, scenario *planner.Scenario) (*Report, error) {
	start := time.Now()
	plan, err := r.planner.Plan(ctx, scenario)
	if err != nil {
		return nil, err
	}
	r.logger.Info("scenario planned",
		zap.String("scenario", scenario.Name),
		zap.Int("steps", len(plan.Steps)))

	report := &Report{Scenario: scenario, Passed: true}
	refined := false
	executed := make(map[string]bool, len(plan.Steps))

	for i := 0; i < len(plan.Steps); i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		step := &plan.Steps[i]
		result := r.executor.Execute(ctx, step)

		if !result.Succeeded() && step.Kind().IsInteraction() {
			result = r.adaptAndRetry(ctx, &plan, i, result)
		}
		report.Results = append(report.Results, *result)
		executed[step.ID] = true

		if !result.Succeeded() {
			report.Passed = false
			r.logger.Warn("step failed",
				zap.String("step_id", step.ID),
				zap.String("error", result.Error))
			if r.cfg.FailFast {
				break
			}
			continue
		}

		// The first successful navigation gives refinement a live page
		// to align the remaining steps against. Refinement runs once;
		// the refined phase guards against unbounded re-refinement.
		// Refinement may remove steps, including ones already executed,
		// so iteration resumes by identity rather than position.
		if !refined && step.Kind() == types.KindNavigate {
			plan = r.planner.RefinePlan(ctx, plan, report.Results)
			refined = true
			i = firstPending(plan, executed) - 1
		}
	}

	report.Plan = plan
	report.Duration = time.Since(start)
	r.logger.Info("scenario finished",
		zap.String("scenario", scenario.Name),
		zap.Bool("passed", report.Passed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// firstPending returns the index of the first step that has not executed
// yet, or len(steps) when none remain.
func firstPending(plan *types.Plan, executed map[string]bool) int {
	for i := range plan.Steps {
		if !executed[plan.Steps[i].ID] {
			return i
		}
	}
	return len(plan.Steps)
}

// adaptAndRetry asks the planner to repair the failing step, then reruns
// it. Adaptation is best-effort; the last result stands if repair does not
// help.
func (r *Runner) adaptAndRetry(ctx context.Context, plan **types.Plan, idx int, failure *types.ExecutionResult) *types.ExecutionResult {
	result := failure
	for round := 0; round < r.cfg.MaxAdaptations && !result.Succeeded(); round++ {
		current := *plan
		adapted := r.planner.AdaptPlan(ctx, current, &current.Steps[idx], result)
		if adapted == current {
			break
		}
		*plan = adapted
		result = r.executor.Execute(ctx, &adapted.Steps[idx])
	}
	return result
}
