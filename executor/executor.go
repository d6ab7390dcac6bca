package executor

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/browser"
	"github.com/kestrelqa/kestrel/config"
	"github.com/kestrelqa/kestrel/internal/metrics"
	"github.com/kestrelqa/kestrel/types"
)

// Locator is the discovery capability the executor consumes.
type Locator interface {
	Locate(ctx context.Context, description string, kind types.ActionKind, hint string) (*types.ElementDiscoveryResult, error)
	ExtractSelectorFromCoordinates(ctx context.Context, x, y float64) (string, error)
}

// VisionChecker verifies a visual concept's presence on a page capture.
// Optional; without one, visual-concept verifications report failure.
type VisionChecker interface {
	CheckVisible(ctx context.Context, screenshot []byte, concept string) (bool, error)
}

// rediscoveryAttempts bounds the fallback path's discovery retries.
const rediscoveryAttempts = 3

// Executor runs one step at a time against one browser session. It is not
// safe for concurrent use; steps within a plan are strictly sequential.
type Executor struct {
	drv        browser.Driver
	locator    Locator
	thresholds config.Thresholds
	cfg        config.ExecutorConfig
	vision     VisionChecker
	metrics    *metrics.Collector
	logger     *zap.Logger

	// depth counts DOM↔perceptual fallback cycles for the current logical
	// action; it is reset to zero on every successful resolution.
	depth int
}

// Option configures an Executor.
type Option func(*Executor)

// WithVisionChecker attaches a perceptual visibility checker.
func WithVisionChecker(v VisionChecker) Option {
	return func(e *Executor) { e.vision = v }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor for one browser session.
func New(drv browser.Driver, locator Locator, cfg config.ExecutorConfig, thresholds config.Thresholds, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRecursionDepth <= 0 {
		cfg.MaxRecursionDepth = 2
	}
	if cfg.StabilizationDelay <= 0 {
		cfg.StabilizationDelay = 500 * time.Millisecond
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	e := &Executor{
		drv:        drv,
		locator:    locator,
		thresholds: thresholds,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one step and always returns a result; it never panics the
// run. Failures carry a diagnostic snapshot.
func (e *Executor) Execute(ctx context.Context, step *types.Step) *types.ExecutionResult {
	start := time.Now()
	kind := step.Kind()

	var result *types.ExecutionResult
	switch kind {
	case types.KindNavigate:
		result = e.navigate(ctx, step)
	case types.KindWait:
		result = e.wait(ctx, step)
	case types.KindVerify:
		result = e.verify(ctx, step)
	case types.KindClick, types.KindType, types.KindHover:
		result = e.interact(ctx, step, kind)
	default:
		result = e.fail(ctx, step, "", types.Errorf(types.ErrValidation, "unknown action %q", step.Action.Name))
	}

	if e.metrics != nil {
		e.metrics.RecordAction(step.Action.Name, string(result.Status), time.Since(start))
	}
	return result
}

func (e *Executor) navigate(ctx context.Context, step *types.Step) *types.ExecutionResult {
	url := step.Action.Arguments["url"]
	if url == "" {
		return e.fail(ctx, step, "", types.NewError(types.ErrValidation, "navigate requires a url argument"))
	}
	if err := e.drv.Navigate(ctx, url, e.cfg.NavTimeout); err != nil {
		return e.fail(ctx, step, "", err)
	}
	return e.succeed(ctx, step, "")
}

func (e *Executor) wait(ctx context.Context, step *types.Step) *types.ExecutionResult {
	args := step.Action.Arguments
	if selector := args["selector"]; selector != "" {
		timeout := e.cfg.WaitTimeout
		if raw := args["timeout"]; raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				timeout = d
			}
		}
		if err := e.drv.WaitVisible(ctx, selector, timeout); err != nil {
			return e.fail(ctx, step, selector, err)
		}
		return e.succeed(ctx, step, selector)
	}

	delay := time.Second
	if raw := args["duration"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			delay = d
		}
	} else if raw := args["seconds"]; raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			delay = time.Duration(secs * float64(time.Second))
		}
	}
	if err := sleepCtx(ctx, delay); err != nil {
		return e.fail(ctx, step, "", err)
	}
	return e.succeed(ctx, step, "")
}

// interact resolves the target element and performs the native action,
// cycling between the structural and perceptual paths under the shared
// recursion bound.
func (e *Executor) interact(ctx context.Context, step *types.Step, kind types.ActionKind) *types.ExecutionResult {
	e.depth = 0
	description := interactionDescription(step)
	res, err := e.locator.Locate(ctx, description, kind, step.Selector())
	if err != nil {
		return e.fail(ctx, step, step.Selector(), err)
	}

	mode := types.MethodDOM
	if res.IsVision() {
		mode = types.MethodVision
	}
	selector := res.Selector
	lastResult := res

	for {
		switch mode {
		case types.MethodDOM:
			actionErr := e.performDOM(ctx, step, kind, selector)
			if actionErr == nil {
				e.depth = 0
				return e.succeed(ctx, step, selector)
			}
			e.logger.Warn("dom interaction failed",
				zap.String("step", step.ID),
				zap.String("selector", selector),
				zap.Int("depth", e.depth),
				zap.Error(actionErr))
			if e.depth >= e.cfg.MaxRecursionDepth {
				return e.fail(ctx, step, selector, types.Errorf(types.ErrRecursionLimit,
					"recursion limit %d exceeded for %q", e.cfg.MaxRecursionDepth, description))
			}
			e.depth++
			if e.metrics != nil {
				e.metrics.RecordFallback(string(kind), "dom", "perceptual")
			}
			mode = types.MethodVision

		case types.MethodVision:
			found := e.rediscover(ctx, description, kind, lastResult)
			if found != nil {
				lastResult = found
				selector = found.Selector
				mode = types.MethodDOM
				continue
			}
			if kind == types.KindType {
				if sel := e.lastResortInput(ctx); sel != "" {
					lastResult = &types.ElementDiscoveryResult{
						Method: types.MethodDOM, Selector: sel,
						Confidence: 0.5, Strategy: "proximity_fallback",
					}
					selector = sel
					mode = types.MethodDOM
					continue
				}
			}
			return e.fail(ctx, step, selector, types.Errorf(types.ErrElementNotFound,
				"could not locate element for %q (last method=%s selector=%q confidence=%.2f)",
				description, lastResult.Method, lastResult.Selector, lastResult.Confidence))
		}
	}
}

// rediscover is the perceptual path's attempt to get back to a structural
// locator: brief stabilization wait, then discovery retries with
// increasing delay. Coordinates carried in a vision result are tried first.
func (e *Executor) rediscover(ctx context.Context, description string, kind types.ActionKind, last *types.ElementDiscoveryResult) *types.ElementDiscoveryResult {
	if sel := e.selectorFromVisionCoordinates(ctx, last); sel != "" {
		return &types.ElementDiscoveryResult{
			Method: types.MethodDOM, Selector: sel,
			Confidence: last.Confidence, Strategy: "coordinate_extraction",
		}
	}

	threshold := e.thresholds.For(string(kind))
	for attempt := 1; attempt <= rediscoveryAttempts; attempt++ {
		if err := sleepCtx(ctx, time.Duration(attempt)*e.cfg.StabilizationDelay); err != nil {
			return nil
		}
		res, err := e.locator.Locate(ctx, description, kind, "")
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordRediscovery(string(kind), "error")
			}
			continue
		}
		if !res.IsVision() && res.Confidence >= threshold {
			if e.metrics != nil {
				e.metrics.RecordRediscovery(string(kind), "success")
			}
			return res
		}
		if e.metrics != nil {
			e.metrics.RecordRediscovery(string(kind), "miss")
		}
	}
	return nil
}

func (e *Executor) selectorFromVisionCoordinates(ctx context.Context, res *types.ElementDiscoveryResult) string {
	if res == nil || !res.IsVision() || res.Metadata == nil {
		return ""
	}
	x, errX := strconv.ParseFloat(res.Metadata["x"], 64)
	y, errY := strconv.ParseFloat(res.Metadata["y"], 64)
	if errX != nil || errY != nil {
		return ""
	}
	sel, err := e.locator.ExtractSelectorFromCoordinates(ctx, x, y)
	if err != nil {
		return ""
	}
	return sel
}

// lastResortInput picks the first visible typable field on the page.
func (e *Executor) lastResortInput(ctx context.Context) string {
	inputs, err := e.drv.Enumerate(ctx, []string{"input", "textarea"})
	if err != nil {
		return ""
	}
	for _, el := range inputs {
		if el.Visible && typable(el.Tag, el.Attributes) {
			return el.Selector
		}
	}
	return ""
}

func typable(tag string, attrs map[string]string) bool {
	if tag == "textarea" {
		return true
	}
	if tag != "input" {
		return false
	}
	switch attrs["type"] {
	case "", "text", "email", "password", "search", "tel", "url", "number":
		return true
	}
	return false
}

func (e *Executor) performDOM(ctx context.Context, step *types.Step, kind types.ActionKind, selector string) error {
	switch kind {
	case types.KindClick:
		return e.drv.Click(ctx, selector)
	case types.KindHover:
		return e.drv.Hover(ctx, selector)
	case types.KindType:
		value := typeValue(step)
		if err := e.drv.Fill(ctx, selector, value); err != nil {
			return err
		}
		// The DOM write is authoritative; a read-back mismatch only
		// warns and downstream verifications catch real data problems.
		if got, err := e.drv.InputValue(ctx, selector); err == nil && got != value {
			e.logger.Warn("typed value read-back mismatch",
				zap.String("selector", selector),
				zap.String("expected", value),
				zap.String("actual", got))
		}
		return nil
	}
	return types.Errorf(types.ErrValidation, "not an interaction: %s", kind)
}

func typeValue(step *types.Step) string {
	if v, ok := step.Action.Arguments["text"]; ok {
		return v
	}
	return step.Action.Arguments["value"]
}

func interactionDescription(step *types.Step) string {
	if d := step.Action.Arguments["description"]; d != "" {
		return d
	}
	return step.Description
}

func (e *Executor) succeed(ctx context.Context, step *types.Step, selector string) *types.ExecutionResult {
	return &types.ExecutionResult{
		StepID:    step.ID,
		Selector:  selector,
		Status:    types.StatusSuccess,
		Snapshot:  e.snapshot(ctx, false),
		Timestamp: time.Now(),
	}
}

func (e *Executor) fail(ctx context.Context, step *types.Step, selector string, err error) *types.ExecutionResult {
	status := types.StatusFailure
	if types.GetErrorCode(err) == types.ErrValidation {
		status = types.StatusError
	}
	return &types.ExecutionResult{
		StepID:    step.ID,
		Selector:  selector,
		Status:    status,
		Error:     err.Error(),
		Snapshot:  e.snapshot(ctx, true),
		Timestamp: time.Now(),
	}
}

// failCheck reports a verification that evaluated cleanly but did not hold.
func (e *Executor) failCheck(ctx context.Context, step *types.Step, selector, message string) *types.ExecutionResult {
	return &types.ExecutionResult{
		StepID:    step.ID,
		Selector:  selector,
		Status:    types.StatusFailure,
		Error:     message,
		Snapshot:  e.snapshot(ctx, true),
		Timestamp: time.Now(),
	}
}

// snapshot captures page state for diagnostics. Screenshots are only taken
// on failure to keep the happy path cheap.
func (e *Executor) snapshot(ctx context.Context, withScreenshot bool) *types.Snapshot {
	snap := &types.Snapshot{Timestamp: time.Now()}
	if url, err := e.drv.URL(ctx); err == nil {
		snap.URL = url
	}
	if html, err := e.drv.HTML(ctx); err == nil {
		snap.HTMLLength = len(html)
	}
	if withScreenshot {
		if png, err := e.drv.Screenshot(ctx); err == nil {
			snap.ScreenshotBase64 = base64.StdEncoding.EncodeToString(png)
		}
	}
	return snap
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
