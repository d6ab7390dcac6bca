package discovery

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/browser"
	"github.com/kestrelqa/kestrel/config"
	"github.com/kestrelqa/kestrel/internal/metrics"
	"github.com/kestrelqa/kestrel/types"
)

// Fixed confidence when every structural layer missed and resolution is
// deferred to the perceptual path.
const visionDeferralConfidence = 0.6

// maxScoredAttempts caps how many top-scored candidates the full-structure
// layer tries before giving up.
const maxScoredAttempts = 5

// minStructureScore is the lowest raw score the full-structure layer will
// act on. Attribute-only matches fall below it and are left for the
// pattern-fallback tiers, which encode attribute specificity directly.
const minStructureScore = 40.0

// Engine locates elements from natural-language descriptions through five
// ordered layers: hint validation, pluggable strategies, weighted
// full-structure scoring, pattern fallback, and perceptual deferral.
type Engine struct {
	drv        browser.Driver
	strategies []Strategy
	extractor  TermExtractor
	thresholds config.Thresholds
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategies sets the pluggable strategies, consulted in order.
func WithStrategies(strategies ...Strategy) Option {
	return func(e *Engine) { e.strategies = strategies }
}

// WithTermExtractor replaces the default regex term extractor.
func WithTermExtractor(x TermExtractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine bound to one browser session.
func NewEngine(drv browser.Driver, thresholds config.Thresholds, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		drv:        drv,
		extractor:  NewRegexExtractor(),
		thresholds: thresholds,
		logger:     logger.With(zap.String("component", "discovery")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Locate resolves a description to a locator. It only fails on context
// cancellation: when every structural layer misses, it returns a vision
// deferral rather than an error.
func (e *Engine) Locate(ctx context.Context, description string, kind types.ActionKind, hint string) (*types.ElementDiscoveryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	threshold := e.thresholds.For(string(kind))

	if hint != "" {
		if res := e.validateHint(ctx, hint, kind); res != nil {
			e.record("hint", res, time.Now())
			return res, nil
		}
	}

	if res := e.runStrategies(ctx, description, kind, threshold); res != nil {
		return res, nil
	}

	if res := e.searchStructure(ctx, description, kind); res != nil {
		return res, nil
	}

	if res := e.patternFallback(ctx, description, kind); res != nil {
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.logger.Info("deferring to perceptual resolution",
		zap.String("description", description),
		zap.String("kind", string(kind)))
	res := &types.ElementDiscoveryResult{
		Method:     types.MethodVision,
		Confidence: visionDeferralConfidence,
		Strategy:   "vision_deferral",
	}
	e.record("vision", res, time.Now())
	return res, nil
}

// validateHint accepts a hint selector only when it resolves to exactly one
// visible element, and for type actions only when that element can receive
// keyboard input.
func (e *Engine) validateHint(ctx context.Context, hint string, kind types.ActionKind) *types.ElementDiscoveryResult {
	if !e.uniqueVisible(ctx, hint) {
		return nil
	}
	info, err := e.drv.ElementInfo(ctx, hint)
	if err != nil {
		return nil
	}
	if kind == types.KindType && !isTypable(info.Tag, info.Attributes) {
		e.logger.Debug("hint rejected, not typable", zap.String("hint", hint))
		return nil
	}
	return &types.ElementDiscoveryResult{
		Method:      types.MethodDOM,
		Selector:    hint,
		Confidence:  0.9,
		ElementInfo: info,
		Strategy:    "hint",
	}
}

func (e *Engine) runStrategies(ctx context.Context, description string, kind types.ActionKind, threshold float64) *types.ElementDiscoveryResult {
	for _, strat := range e.strategies {
		start := time.Now()
		res, err := strat.Discover(ctx, e.drv, description, kind)
		if err != nil {
			e.logger.Debug("strategy failed",
				zap.String("strategy", strat.Name()),
				zap.Error(err))
			continue
		}
		if res == nil || res.Confidence < threshold {
			continue
		}
		if res.IsVision() {
			e.record("strategy", res, start)
			return res
		}
		if e.uniqueVisible(ctx, res.Selector) {
			if accepted := e.ensureTypable(ctx, res, kind); accepted != nil {
				e.record("strategy", accepted, start)
				return accepted
			}
			continue
		}
		// Candidate not unique/visible; one of its alternatives may be.
		for _, alt := range res.Alternatives {
			if e.uniqueVisible(ctx, alt) {
				out := *res
				out.Selector = alt
				out.Confidence = res.Confidence * 0.9
				if accepted := e.ensureTypable(ctx, &out, kind); accepted != nil {
					e.record("strategy", accepted, start)
					return accepted
				}
			}
		}
	}
	return nil
}

// ensureTypable re-targets a candidate to a valid input field for type
// actions: first the candidate itself, then its alternatives, then the
// spatially nearest input at reduced confidence.
func (e *Engine) ensureTypable(ctx context.Context, res *types.ElementDiscoveryResult, kind types.ActionKind) *types.ElementDiscoveryResult {
	info, err := e.drv.ElementInfo(ctx, res.Selector)
	if err != nil {
		return nil
	}
	if res.ElementInfo == nil {
		res.ElementInfo = info
	}
	if kind != types.KindType {
		return res
	}
	if isTypable(info.Tag, info.Attributes) {
		return res
	}
	for _, alt := range res.Alternatives {
		altInfo, err := e.drv.ElementInfo(ctx, alt)
		if err != nil {
			continue
		}
		if isTypable(altInfo.Tag, altInfo.Attributes) && e.uniqueVisible(ctx, alt) {
			out := *res
			out.Selector = alt
			out.Confidence = res.Confidence * 0.9
			out.ElementInfo = altInfo
			return &out
		}
	}
	if info.Position == nil {
		return nil
	}
	nearest := e.nearestInput(ctx, *info.Position)
	if nearest == nil {
		return nil
	}
	out := *res
	out.Selector = nearest.Selector
	out.Confidence = res.Confidence * 0.8
	out.ElementInfo = &types.ElementInfo{
		Tag:        nearest.Tag,
		Attributes: nearest.Attributes,
		Text:       nearest.Text,
		Position:   &nearest.Box,
	}
	return &out
}

// nearestInput finds the closest visible typable field to a bounding box,
// by center distance.
func (e *Engine) nearestInput(ctx context.Context, from types.BoundingBox) *browser.ElementSummary {
	inputs, err := e.drv.Enumerate(ctx, []string{"input", "textarea"})
	if err != nil {
		return nil
	}
	fx, fy := from.Center()
	var best *browser.ElementSummary
	bestDist := math.MaxFloat64
	for i := range inputs {
		el := &inputs[i]
		if !el.Visible || !isTypable(el.Tag, el.Attributes) {
			continue
		}
		cx, cy := el.Box.Center()
		d := math.Hypot(cx-fx, cy-fy)
		if d < bestDist {
			bestDist = d
			best = el
		}
	}
	return best
}

// searchStructure enumerates candidate tags, scores them against extracted
// terms, and tries the top candidates in score order.
func (e *Engine) searchStructure(ctx context.Context, description string, kind types.ActionKind) *types.ElementDiscoveryResult {
	start := time.Now()
	terms := e.extractor.Extract(description)
	if terms.Empty() {
		return nil
	}
	elements, err := e.drv.Enumerate(ctx, candidateTags(kind))
	if err != nil {
		e.logger.Debug("enumerate failed", zap.Error(err))
		return nil
	}
	ranked := rankCandidates(elements, terms, kind)
	limit := maxScoredAttempts
	if len(ranked) < limit {
		limit = len(ranked)
	}
	for _, cand := range ranked[:limit] {
		if cand.score < minStructureScore {
			break
		}
		selector, ok := e.resolveCandidate(ctx, cand)
		if !ok {
			continue
		}
		res := &types.ElementDiscoveryResult{
			Method:     types.MethodDOM,
			Selector:   selector,
			Confidence: cand.confidence(),
			ElementInfo: &types.ElementInfo{
				Tag:        cand.el.Tag,
				Attributes: cand.el.Attributes,
				Text:       cand.el.Text,
				Position:   &cand.el.Box,
			},
			Strategy: "structure_scoring",
		}
		for _, other := range ranked[:limit] {
			if other.el.Selector != selector {
				res.Alternatives = append(res.Alternatives, other.el.Selector)
			}
		}
		if accepted := e.ensureTypable(ctx, res, kind); accepted != nil {
			e.record("scoring", accepted, start)
			return accepted
		}
	}
	return nil
}

// resolveCandidate checks a scored candidate's selector for uniqueness and
// visibility, disambiguating via href or label attributes when it matches
// more than one element.
func (e *Engine) resolveCandidate(ctx context.Context, cand candidate) (string, bool) {
	sel := cand.el.Selector
	n, err := e.drv.Count(ctx, sel)
	if err != nil || n == 0 {
		return "", false
	}
	if n > 1 {
		refined, ok := e.disambiguate(ctx, cand)
		if !ok {
			return "", false
		}
		sel = refined
	}
	if visible, err := e.drv.IsVisible(ctx, sel); err != nil || !visible {
		return "", false
	}
	return sel, true
}

func (e *Engine) disambiguate(ctx context.Context, cand candidate) (string, bool) {
	tag := strings.ToLower(cand.el.Tag)
	for _, attr := range []string{"href", "title", "aria-label", "name"} {
		v := cand.el.Attributes[attr]
		if v == "" {
			continue
		}
		refined := fmt.Sprintf(`%s[%s=%q]`, tag, attr, v)
		if n, err := e.drv.Count(ctx, refined); err == nil && n == 1 {
			return refined, true
		}
	}
	return "", false
}

// patternFallback tries a prioritized attribute/text pattern list built
// from extracted terms and action-kind idioms.
func (e *Engine) patternFallback(ctx context.Context, description string, kind types.ActionKind) *types.ElementDiscoveryResult {
	start := time.Now()
	terms := e.extractor.Extract(description)
	patterns := buildPatterns(terms, kind, RoleHint(description))
	for _, p := range patterns {
		if !e.uniqueVisible(ctx, p.selector) {
			continue
		}
		info, _ := e.drv.ElementInfo(ctx, p.selector)
		res := &types.ElementDiscoveryResult{
			Method:      types.MethodDOM,
			Selector:    p.selector,
			Confidence:  p.confidence,
			ElementInfo: info,
			Strategy:    "pattern_fallback",
		}
		if accepted := e.ensureTypable(ctx, res, kind); accepted != nil {
			e.record("pattern", accepted, start)
			return accepted
		}
	}
	return nil
}

// ExtractSelectorFromCoordinates derives a stable selector for the element
// under a point, preferring a test identifier, then id, then the first
// class, then the bare tag. The result is validated for uniqueness.
func (e *Engine) ExtractSelectorFromCoordinates(ctx context.Context, x, y float64) (string, error) {
	el, err := e.drv.ElementAtPoint(ctx, x, y)
	if err != nil {
		return "", err
	}
	tag := strings.ToLower(el.Tag)
	var candidates []string
	if v := el.Attributes["data-testid"]; v != "" {
		candidates = append(candidates, fmt.Sprintf(`[data-testid=%q]`, v))
	}
	if v := el.Attributes["id"]; v != "" {
		candidates = append(candidates, "#"+v)
	}
	if v := el.Attributes["class"]; v != "" {
		if first := strings.Fields(v); len(first) > 0 {
			candidates = append(candidates, tag+"."+first[0])
		}
	}
	candidates = append(candidates, tag)

	for _, sel := range candidates {
		if n, err := e.drv.Count(ctx, sel); err == nil && n == 1 {
			return sel, nil
		}
	}
	return "", types.Errorf(types.ErrAmbiguousSelector, "no unique selector for element at (%.0f, %.0f)", x, y)
}

func (e *Engine) uniqueVisible(ctx context.Context, selector string) bool {
	n, err := e.drv.Count(ctx, selector)
	if err != nil || n != 1 {
		return false
	}
	visible, err := e.drv.IsVisible(ctx, selector)
	return err == nil && visible
}

func (e *Engine) record(layer string, res *types.ElementDiscoveryResult, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordDiscovery(layer, string(res.Method), "success", time.Since(start))
}
