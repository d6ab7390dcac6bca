package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/browser"
	"github.com/kestrelqa/kestrel/config"
	"github.com/kestrelqa/kestrel/internal/cache"
	"github.com/kestrelqa/kestrel/internal/metrics"
	"github.com/kestrelqa/kestrel/llm"
	"github.com/kestrelqa/kestrel/resilience"
	"github.com/kestrelqa/kestrel/types"
)

// breakerKeyRefinement guards the refinement LLM path process-wide: when
// the completion service is degraded, one execution's failures protect all
// concurrent executions from piling on further load.
const breakerKeyRefinement = "plan-refinement"

// adaptRetries bounds discovery retries during mid-run adaptation.
const adaptRetries = 2

// Locator is the discovery capability adaptation consumes.
type Locator interface {
	Locate(ctx context.Context, description string, kind types.ActionKind, hint string) (*types.ElementDiscoveryResult, error)
}

// AdaptivePlanner layers refinement and repair on a base planner. Refinement
// rewrites selectors against live page structure before execution;
// adaptation repairs one failing step mid-run. Neither is allowed to fail a
// test: every error path returns the best available unmodified plan.
type AdaptivePlanner struct {
	base    Planner
	client  llm.Client
	kernel  *resilience.Kernel
	cache   *cache.StructureCache
	locator Locator
	drv     browser.Driver
	cfg     config.PlannerConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	encoder *tiktoken.Tiktoken
}

// Option configures an AdaptivePlanner.
type Option func(*AdaptivePlanner)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *AdaptivePlanner) { p.metrics = m }
}

// NewAdaptivePlanner creates an adaptive planner for one browser session.
// The kernel and structure cache are shared across all executions; the
// driver and locator belong to this session.
func NewAdaptivePlanner(base Planner, client llm.Client, kernel *resilience.Kernel, structures *cache.StructureCache, locator Locator, drv browser.Driver, cfg config.PlannerConfig, logger *zap.Logger, opts ...Option) *AdaptivePlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRefinementHistory <= 0 {
		cfg.MaxRefinementHistory = 20
	}
	if cfg.MinRefinementConfidence <= 0 {
		cfg.MinRefinementConfidence = 0.6
	}
	if cfg.StructureTokenBudget <= 0 {
		cfg.StructureTokenBudget = 2000
	}
	p := &AdaptivePlanner{
		base:    base,
		client:  client,
		kernel:  kernel,
		cache:   structures,
		locator: locator,
		drv:     drv,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "adaptive_planner")),
	}
	// Token counting is best-effort; without an encoding the summary is
	// truncated by characters instead.
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		p.encoder = enc
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan delegates to the base planner; the result starts in the initial
// phase.
func (p *AdaptivePlanner) Plan(ctx context.Context, scenario *Scenario) (*types.Plan, error) {
	return p.base.Plan(ctx, scenario)
}

// refinementResponse is the expected refinement payload.
type refinementResponse struct {
	Refinements []struct {
		StepID     string  `json:"stepId"`
		Selector   string  `json:"selector"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	} `json:"refinements"`
	RemovedSteps []struct {
		StepID string `json:"stepId"`
		Reason string `json:"reason"`
	} `json:"removedSteps"`
	Error string `json:"error"`
}

const refineSystemPrompt = `You are a browser test plan reviewer. Given a plan, the current page
structure, and the already-executed steps, reply with JSON only:
{"refinements": [{"stepId": "...", "selector": "...", "confidence": <0..1>, "reason": "..."}],
 "removedSteps": [{"stepId": "...", "reason": "..."}]}
Suggest a selector refinement only when the page structure supports it.
List a step under removedSteps when it is redundant or impossible on this page.`

// RefinePlan aligns a plan with the live page before execution. It never
// fails: any error in the path returns the original plan, still marked
// refined so the run does not retry refinement unboundedly, with a
// synthetic history entry recording the reason.
func (p *AdaptivePlanner) RefinePlan(ctx context.Context, plan *types.Plan, executed []types.ExecutionResult) *types.Plan {
	refined, err := p.tryRefine(ctx, plan, executed)
	if err != nil {
		p.logger.Warn("plan refinement failed, keeping original plan",
			zap.String("plan_id", plan.ID),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.RecordRefinement("failure")
		}
		out := plan.Clone()
		out.AdvancePhase(types.PhaseRefined)
		out.AppendRefinement(types.PlanRefinement{
			Reason: fmt.Sprintf("refinement failed: %v", err),
		}, p.cfg.MaxRefinementHistory)
		return out
	}
	if p.metrics != nil {
		p.metrics.RecordRefinement("success")
	}
	return refined
}

func (p *AdaptivePlanner) tryRefine(ctx context.Context, plan *types.Plan, executed []types.ExecutionResult) (*types.Plan, error) {
	url, err := p.drv.URL(ctx)
	if err != nil {
		return nil, err
	}
	structure, err := p.cache.GetOrExtract(ctx, url, p.drv.ExtractStructure)
	if err != nil {
		return nil, err
	}
	structure = p.truncateToBudget(structure)

	planJSON, err := json.Marshal(plan.Steps)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Plan steps:\n%s\n\nPage structure:\n%s\n\nExecuted so far:\n%s",
		planJSON, structure, executedDigest(executed))

	raw, err := p.kernel.Execute(ctx, breakerKeyRefinement, nil, func() (any, error) {
		return p.client.Complete(ctx, &llm.CompletionRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: refineSystemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
			Temperature: 0,
			JSONMode:    true,
		})
	})
	if err != nil {
		return nil, err
	}

	var resp refinementResponse
	if err := json.Unmarshal([]byte(stripFences(raw.(string))), &resp); err != nil {
		return nil, types.Errorf(types.ErrValidation, "malformed refinement response: %v", err)
	}
	if resp.Error != "" {
		return nil, types.Errorf(types.ErrValidation, "refiner reported: %s", resp.Error)
	}

	out := plan.Clone()

	// Removals first, so refinements never resurrect a removed step.
	removed := map[string]string{}
	for _, r := range resp.RemovedSteps {
		removed[r.StepID] = r.Reason
	}
	if len(removed) > 0 {
		kept := out.Steps[:0]
		for _, step := range out.Steps {
			if reason, drop := removed[step.ID]; drop {
				out.AppendRefinement(types.PlanRefinement{
					StepID: step.ID,
					Reason: "removed: " + reason,
				}, p.cfg.MaxRefinementHistory)
				continue
			}
			kept = append(kept, step)
		}
		out.Steps = kept
	}

	for _, r := range resp.Refinements {
		if r.Confidence < p.cfg.MinRefinementConfidence {
			continue
		}
		for i := range out.Steps {
			step := &out.Steps[i]
			if step.ID != r.StepID || !step.Kind().IsInteraction() {
				continue
			}
			original := step.Selector()
			if step.OriginalSelector == "" {
				step.OriginalSelector = original
			}
			step.ElementDiscovery = &types.ElementDiscoveryResult{
				Method:     types.MethodDOM,
				Selector:   r.Selector,
				Confidence: r.Confidence,
				Strategy:   "plan_refinement",
			}
			out.AppendRefinement(types.PlanRefinement{
				StepID:           step.ID,
				OriginalSelector: original,
				RefinedSelector:  r.Selector,
				Reason:           r.Reason,
				Confidence:       r.Confidence,
			}, p.cfg.MaxRefinementHistory)
			break
		}
	}

	out.AdvancePhase(types.PhaseRefined)
	p.logger.Info("plan refined",
		zap.String("plan_id", out.ID),
		zap.Int("steps", len(out.Steps)),
		zap.Int("removed", len(resp.RemovedSteps)),
		zap.Int("refinements", len(resp.Refinements)))
	return out, nil
}

// AdaptPlan repairs one failing interaction step against the live page.
// Best-effort: on any failure the plan is returned unchanged.
func (p *AdaptivePlanner) AdaptPlan(ctx context.Context, plan *types.Plan, failedStep *types.Step, failure *types.ExecutionResult) *types.Plan {
	kind := failedStep.Kind()
	if !kind.IsInteraction() {
		return plan
	}
	description := failedStep.Action.Arguments["description"]
	if description == "" {
		description = failedStep.Description
	}

	policy := resilience.DefaultRetryPolicy()
	policy.MaxRetries = adaptRetries
	retryer := resilience.NewRetryer(policy, p.logger)
	raw, err := retryer.DoWithResult(ctx, func() (any, error) {
		res, err := p.locator.Locate(ctx, description, kind, "")
		if err != nil {
			return nil, err
		}
		if res.IsVision() {
			return nil, types.Errorf(types.ErrTransient, "no structural match for %q", description)
		}
		return res, nil
	})
	if err != nil {
		p.logger.Warn("plan adaptation failed, keeping step as is",
			zap.String("step_id", failedStep.ID),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.RecordAdaptation("failure")
		}
		return plan
	}
	res := raw.(*types.ElementDiscoveryResult)

	out := plan.Clone()
	for i := range out.Steps {
		step := &out.Steps[i]
		if step.ID != failedStep.ID {
			continue
		}
		original := step.Selector()
		if step.OriginalSelector == "" {
			step.OriginalSelector = original
		}
		step.ElementDiscovery = res
		step.RetryCount++
		out.AppendRefinement(types.PlanRefinement{
			StepID:           step.ID,
			OriginalSelector: original,
			RefinedSelector:  res.Selector,
			Reason:           "adapted after failure: " + failureReason(failure),
			Confidence:       res.Confidence,
		}, p.cfg.MaxRefinementHistory)
		break
	}
	out.AdvancePhase(types.PhaseAdaptive)
	if p.metrics != nil {
		p.metrics.RecordAdaptation("success")
	}
	p.logger.Info("step adapted",
		zap.String("step_id", failedStep.ID),
		zap.String("selector", res.Selector),
		zap.Float64("confidence", res.Confidence))
	return out
}

func failureReason(failure *types.ExecutionResult) string {
	if failure == nil || failure.Error == "" {
		return "unknown"
	}
	return failure.Error
}

// executedDigest summarizes executed steps for the refinement prompt.
func executedDigest(executed []types.ExecutionResult) string {
	if len(executed) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, r := range executed {
		fmt.Fprintf(&b, "%s: %s", r.StepID, r.Status)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// truncateToBudget caps the structure summary at the configured token
// budget so refinement prompts stay affordable.
func (p *AdaptivePlanner) truncateToBudget(structure string) string {
	if p.encoder == nil {
		limit := p.cfg.StructureTokenBudget * 4
		if len(structure) > limit {
			return structure[:limit]
		}
		return structure
	}
	tokens := p.encoder.Encode(structure, nil, nil)
	if len(tokens) <= p.cfg.StructureTokenBudget {
		return structure
	}
	return p.encoder.Decode(tokens[:p.cfg.StructureTokenBudget])
}
