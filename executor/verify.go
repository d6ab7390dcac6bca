package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/types"
)

// verifySpec is a parsed verify_<target>_<operation> action name.
type verifySpec struct {
	target    string
	operation string
	negated   bool
}

// verifyOps are the recognized comparison operations, longest first so
// suffix matching picks the most specific one.
var verifyOps = []string{
	"matches_regex",
	"starts_with",
	"ends_with",
	"contains",
	"visible",
	"equals",
	"matches",
	"exists",
}

// parseVerify splits verify_<target>[_not]_<operation>.
func parseVerify(name string) (*verifySpec, error) {
	rest := strings.TrimPrefix(name, "verify_")
	if rest == name || rest == "" {
		return nil, types.Errorf(types.ErrValidation, "not a verify action: %q", name)
	}
	for _, op := range verifyOps {
		switch {
		case strings.HasSuffix(rest, "_not_"+op):
			return &verifySpec{
				target:    strings.TrimSuffix(rest, "_not_"+op),
				operation: op,
				negated:   true,
			}, nil
		case strings.HasSuffix(rest, "_"+op):
			return &verifySpec{
				target:    strings.TrimSuffix(rest, "_"+op),
				operation: op,
			}, nil
		case rest == op:
			return &verifySpec{target: "element", operation: op}, nil
		}
	}
	return nil, types.Errorf(types.ErrValidation, "unknown verify operation in %q", name)
}

func (e *Executor) verify(ctx context.Context, step *types.Step) *types.ExecutionResult {
	spec, err := parseVerify(step.Action.Name)
	if err != nil {
		return e.fail(ctx, step, "", err)
	}
	if spec.operation == "visible" {
		return e.verifyVisible(ctx, step, spec)
	}
	return e.verifyValue(ctx, step, spec)
}

// verifyVisible resolves the target to a selector (explicit, heading
// shorthand, or discovered) and checks visibility. Targets describing a
// visual concept are checked perceptually against a full-page capture.
func (e *Executor) verifyVisible(ctx context.Context, step *types.Step, spec *verifySpec) *types.ExecutionResult {
	args := step.Action.Arguments

	if concept, ok := visualConcept(args); ok {
		return e.verifyConceptVisible(ctx, step, spec, concept)
	}

	// "X and Y" checks both parts; each resolves independently.
	if text := args["text"]; strings.Contains(text, " and ") {
		for _, part := range strings.SplitN(text, " and ", 2) {
			part = strings.TrimSpace(part)
			visible, selector, err := e.resolveAndCheckVisible(ctx, part, args["selector"])
			if err != nil {
				return e.fail(ctx, step, selector, err)
			}
			if visible == spec.negated {
				return e.failCheck(ctx, step, selector,
					fmt.Sprintf("expected %q visible=%v, got %v", part, !spec.negated, visible))
			}
		}
		return e.succeed(ctx, step, "")
	}

	description := args["text"]
	if description == "" {
		description = args["description"]
	}
	if description == "" {
		description = step.Description
	}
	visible, selector, err := e.resolveAndCheckVisible(ctx, description, e.visibilitySelector(spec, args))
	if err != nil {
		if spec.negated && types.GetErrorCode(err) == types.ErrElementNotFound {
			// Absence satisfies a negated visibility check.
			return e.succeed(ctx, step, selector)
		}
		return e.fail(ctx, step, selector, err)
	}
	if visible == spec.negated {
		return e.failCheck(ctx, step, selector,
			fmt.Sprintf("expected visible=%v for %q, got %v", !spec.negated, description, visible))
	}
	return e.succeed(ctx, step, selector)
}

// visibilitySelector picks the direct selector for a visibility target:
// the explicit argument, or the heading-level shorthand.
func (e *Executor) visibilitySelector(spec *verifySpec, args map[string]string) string {
	if sel := args["selector"]; sel != "" {
		return sel
	}
	switch spec.target {
	case "heading":
		return "h1, h2, h3"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return spec.target
	}
	return ""
}

// resolveAndCheckVisible tries the direct selector first and falls back to
// discovery when it misses.
func (e *Executor) resolveAndCheckVisible(ctx context.Context, description, selector string) (bool, string, error) {
	if selector != "" {
		if n, err := e.drv.Count(ctx, selector); err == nil && n > 0 {
			visible, err := e.drv.IsVisible(ctx, selector)
			return visible, selector, err
		}
	}
	res, err := e.locator.Locate(ctx, description, types.KindVerify, "")
	if err != nil {
		return false, selector, err
	}
	if res.IsVision() {
		return false, selector, types.Errorf(types.ErrElementNotFound,
			"no structural match for %q", description)
	}
	visible, err := e.drv.IsVisible(ctx, res.Selector)
	return visible, res.Selector, err
}

// visualConcept reports whether the step targets a visual concept rather
// than a DOM element (selector carrying the visual: scheme).
func visualConcept(args map[string]string) (string, bool) {
	sel := args["selector"]
	if strings.HasPrefix(sel, "visual:") {
		return strings.TrimPrefix(sel, "visual:"), true
	}
	return "", false
}

func (e *Executor) verifyConceptVisible(ctx context.Context, step *types.Step, spec *verifySpec, concept string) *types.ExecutionResult {
	if e.vision == nil {
		return e.fail(ctx, step, "", types.Errorf(types.ErrValidation,
			"visual concept %q requires a vision checker", concept))
	}
	shot, err := e.drv.Screenshot(ctx)
	if err != nil {
		return e.fail(ctx, step, "", err)
	}
	visible, err := e.vision.CheckVisible(ctx, shot, concept)
	if err != nil {
		return e.fail(ctx, step, "", err)
	}
	if visible == spec.negated {
		return e.failCheck(ctx, step, "",
			fmt.Sprintf("expected concept %q visible=%v, got %v", concept, !spec.negated, visible))
	}
	return e.succeed(ctx, step, "")
}

// verifyValue fetches the target's current value and applies the named
// comparison, honoring negation.
func (e *Executor) verifyValue(ctx context.Context, step *types.Step, spec *verifySpec) *types.ExecutionResult {
	args := step.Action.Arguments
	actual, selector, err := e.fetchTargetValue(ctx, spec, args)
	if err != nil {
		return e.fail(ctx, step, selector, err)
	}

	expected := expectedValue(args)
	holds, err := compare(spec.operation, actual, expected)
	if err != nil {
		return e.fail(ctx, step, selector, err)
	}
	if spec.negated {
		holds = !holds
	}
	if !holds {
		op := spec.operation
		if spec.negated {
			op = "not_" + op
		}
		return e.failCheck(ctx, step, selector,
			fmt.Sprintf("%s %s %q failed (actual %q)", spec.target, op, expected, truncate(actual, 200)))
	}
	e.logger.Debug("verification passed",
		zap.String("target", spec.target),
		zap.String("operation", spec.operation))
	return e.succeed(ctx, step, selector)
}

func (e *Executor) fetchTargetValue(ctx context.Context, spec *verifySpec, args map[string]string) (string, string, error) {
	switch spec.target {
	case "title":
		v, err := e.drv.Title(ctx)
		return v, "", err
	case "url":
		v, err := e.drv.URL(ctx)
		return v, "", err
	case "body":
		v, err := e.drv.TextContent(ctx, "body")
		return v, "body", err
	case "heading":
		v, err := e.drv.TextContent(ctx, "h1")
		return v, "h1", err
	}

	selector := args["selector"]
	if selector == "" {
		description := args["description"]
		if description == "" {
			description = strings.ReplaceAll(spec.target, "_", " ")
		}
		res, err := e.locator.Locate(ctx, description, types.KindVerify, "")
		if err != nil {
			return "", "", err
		}
		if res.IsVision() {
			return "", "", types.Errorf(types.ErrElementNotFound,
				"no structural match for %q", description)
		}
		selector = res.Selector
	}
	v, err := e.drv.TextContent(ctx, selector)
	return v, selector, err
}

func expectedValue(args map[string]string) string {
	for _, key := range []string{"value", "text", "expected"} {
		if v, ok := args[key]; ok {
			return v
		}
	}
	return ""
}

func compare(operation, actual, expected string) (bool, error) {
	switch operation {
	case "equals":
		return actual == expected, nil
	case "contains":
		return strings.Contains(actual, expected), nil
	case "starts_with":
		return strings.HasPrefix(actual, expected), nil
	case "ends_with":
		return strings.HasSuffix(actual, expected), nil
	case "exists":
		return strings.TrimSpace(actual) != "", nil
	case "matches", "matches_regex":
		re, err := regexp.Compile(expected)
		if err != nil {
			return false, types.Errorf(types.ErrValidation, "bad pattern %q: %v", expected, err)
		}
		return re.MatchString(actual), nil
	}
	return false, types.Errorf(types.ErrValidation, "unknown operation %q", operation)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
