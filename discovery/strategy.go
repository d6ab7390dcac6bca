package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"context"

	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/browser"
	"github.com/kestrelqa/kestrel/internal/cache"
	"github.com/kestrelqa/kestrel/llm"
	"github.com/kestrelqa/kestrel/resilience"
	"github.com/kestrelqa/kestrel/types"
)

// Strategy proposes a locator with a confidence for a natural-language
// element description. Strategies are consulted in registration order;
// the engine applies threshold and uniqueness gating on top.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, drv browser.Driver, description string, kind types.ActionKind) (*types.ElementDiscoveryResult, error)
}

// breakerKeyDiscovery guards the discovery LLM path process-wide.
const breakerKeyDiscovery = "element-discovery"

// LLMStrategy asks a completion model to pick a selector from the page's
// structural summary. The summary is fetched through the shared structure
// cache, and the completion call goes through the resilience kernel.
type LLMStrategy struct {
	client llm.Client
	kernel *resilience.Kernel
	cache  *cache.StructureCache
	logger *zap.Logger
}

// NewLLMStrategy creates the LLM-grounded DOM analyzer strategy.
func NewLLMStrategy(client llm.Client, kernel *resilience.Kernel, structures *cache.StructureCache, logger *zap.Logger) *LLMStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMStrategy{
		client: client,
		kernel: kernel,
		cache:  structures,
		logger: logger.With(zap.String("component", "llm_strategy")),
	}
}

// Name implements Strategy.
func (s *LLMStrategy) Name() string { return "llm_dom_analyzer" }

// llmLocatorResponse is the JSON shape the model must return.
type llmLocatorResponse struct {
	Selector     string   `json:"selector"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives"`
	Reasoning    string   `json:"reasoning"`
	Error        string   `json:"error"`
}

const locatorSystemPrompt = `You are a CSS selector expert for browser test automation.
Given a page structure listing and an element description, reply with JSON only:
{"selector": "<css selector>", "confidence": <0..1>, "alternatives": ["<selector>", ...], "reasoning": "<short>"}
Pick the most specific selector that uniquely matches the described element.
If no element plausibly matches, reply {"error": "not found"}.`

// Discover implements Strategy.
func (s *LLMStrategy) Discover(ctx context.Context, drv browser.Driver, description string, kind types.ActionKind) (*types.ElementDiscoveryResult, error) {
	url, err := drv.URL(ctx)
	if err != nil {
		return nil, err
	}
	structure, err := s.cache.GetOrExtract(ctx, url, drv.ExtractStructure)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Page structure:\n%s\n\nFind the element for a %s action: %q", structure, kind, description)

	policy := resilience.DefaultRetryPolicy()
	policy.MaxRetries = 2
	raw, err := s.kernel.Execute(ctx, breakerKeyDiscovery, policy, func() (any, error) {
		return s.client.Complete(ctx, &llm.CompletionRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: locatorSystemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
			Temperature: 0,
			JSONMode:    true,
		})
	})
	if err != nil {
		return nil, err
	}

	var resp llmLocatorResponse
	if err := json.Unmarshal([]byte(extractJSON(raw.(string))), &resp); err != nil {
		return nil, types.Errorf(types.ErrValidation, "malformed locator response: %v", err)
	}
	if resp.Error != "" {
		return nil, types.Errorf(types.ErrElementNotFound, "model found no element: %s", resp.Error)
	}
	if resp.Selector == "" {
		return nil, types.NewError(types.ErrValidation, "locator response missing selector")
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, types.Errorf(types.ErrValidation, "confidence %v out of range", resp.Confidence)
	}

	s.logger.Debug("llm locator proposed",
		zap.String("selector", resp.Selector),
		zap.Float64("confidence", resp.Confidence),
		zap.String("reasoning", resp.Reasoning))

	return &types.ElementDiscoveryResult{
		Method:       types.MethodDOM,
		Selector:     resp.Selector,
		Confidence:   resp.Confidence,
		Alternatives: resp.Alternatives,
		Strategy:     s.Name(),
	}, nil
}

// extractJSON trims markdown code fences some models wrap around JSON.
func extractJSON(raw string) string {
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
