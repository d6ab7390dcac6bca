package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/config"
	"github.com/kestrelqa/kestrel/testutil/mocks"
	"github.com/kestrelqa/kestrel/types"
)

// stubLocator scripts discovery results, consumed in order (last repeats).
type stubLocator struct {
	mu    sync.Mutex
	queue []*types.ElementDiscoveryResult
	err   error
	coord string
	calls int
}

func (s *stubLocator) Locate(ctx context.Context, description string, kind types.ActionKind, hint string) (*types.ElementDiscoveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.queue) == 0 {
		return &types.ElementDiscoveryResult{Method: types.MethodVision, Confidence: 0.6, Strategy: "vision_deferral"}, nil
	}
	res := s.queue[0]
	if len(s.queue) > 1 {
		s.queue = s.queue[1:]
	}
	return res, nil
}

func (s *stubLocator) ExtractSelectorFromCoordinates(ctx context.Context, x, y float64) (string, error) {
	if s.coord == "" {
		return "", types.NewError(types.ErrElementNotFound, "nothing at point")
	}
	return s.coord, nil
}

func domResult(selector string, confidence float64) *types.ElementDiscoveryResult {
	return &types.ElementDiscoveryResult{
		Method:     types.MethodDOM,
		Selector:   selector,
		Confidence: confidence,
		Strategy:   "stub",
	}
}

func visionResult() *types.ElementDiscoveryResult {
	return &types.ElementDiscoveryResult{Method: types.MethodVision, Confidence: 0.6, Strategy: "vision_deferral"}
}

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		MaxRecursionDepth:  2,
		StabilizationDelay: time.Millisecond,
		NavTimeout:         time.Second,
		WaitTimeout:        100 * time.Millisecond,
	}
}

func newExecutor(drv *mocks.MockDriver, loc Locator, opts ...Option) *Executor {
	return New(drv, loc, testConfig(), config.DefaultConfig().Discovery.Thresholds, zap.NewNop(), opts...)
}

func step(name string, args map[string]string) *types.Step {
	return &types.Step{
		ID:          "s1",
		Description: "test step",
		Action:      types.Action{Name: name, Arguments: args},
	}
}

func TestExecute_Navigate(t *testing.T) {
	drv := mocks.NewMockDriver()
	ex := newExecutor(drv, &stubLocator{})

	result := ex.Execute(context.Background(), step("navigate", map[string]string{"url": "https://example.com"}))

	assert.True(t, result.Succeeded())
	require.Len(t, drv.Navigations, 1)
	assert.Equal(t, "https://example.com", drv.Navigations[0])
	assert.NotNil(t, result.Snapshot)
}

func TestExecute_NavigateMissingURL(t *testing.T) {
	ex := newExecutor(mocks.NewMockDriver(), &stubLocator{})

	result := ex.Execute(context.Background(), step("navigate", nil))

	assert.Equal(t, types.StatusError, result.Status)
	assert.Contains(t, result.Error, "url")
}

func TestExecute_WaitFixedDelay(t *testing.T) {
	ex := newExecutor(mocks.NewMockDriver(), &stubLocator{})

	start := time.Now()
	result := ex.Execute(context.Background(), step("wait", map[string]string{"duration": "20ms"}))

	assert.True(t, result.Succeeded())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestExecute_WaitForSelector(t *testing.T) {
	drv := mocks.NewMockDriver().
		AddElement("#ready", mocks.MockElement{Tag: "div", Visible: true})
	ex := newExecutor(drv, &stubLocator{})

	result := ex.Execute(context.Background(), step("wait", map[string]string{"selector": "#ready"}))
	assert.True(t, result.Succeeded())
}

func TestExecute_ClickDOMPath(t *testing.T) {
	drv := mocks.NewMockDriver().
		AddElement("#buy", mocks.MockElement{Tag: "button", Visible: true})
	loc := &stubLocator{queue: []*types.ElementDiscoveryResult{domResult("#buy", 0.9)}}
	ex := newExecutor(drv, loc)

	result := ex.Execute(context.Background(), step("click", map[string]string{"description": "the buy button"}))

	assert.True(t, result.Succeeded())
	assert.Equal(t, "#buy", result.Selector)
	require.Len(t, drv.Interactions, 1)
	assert.Equal(t, "click", drv.Interactions[0].Kind)
}

func TestExecute_TypeFillsValue(t *testing.T) {
	drv := mocks.NewMockDriver().
		AddElement("#email", mocks.MockElement{
			Tag: "input", Visible: true,
			Attributes: map[string]string{"type": "email"},
		})
	loc := &stubLocator{queue: []*types.ElementDiscoveryResult{domResult("#email", 0.9)}}
	ex := newExecutor(drv, loc)

	result := ex.Execute(context.Background(), step("type", map[string]string{"text": "hello@example.com"}))

	assert.True(t, result.Succeeded())
	value, err := drv.InputValue(context.Background(), "#email")
	require.NoError(t, err)
	assert.Equal(t, "hello@example.com", value)
}

func TestExecute_TypeReadBackMismatchStillSucceeds(t *testing.T) {
	drv := mocks.NewMockDriver().
		AddElement("#email", mocks.MockElement{
			Tag: "input", Visible: true,
			Attributes: map[string]string{"type": "email"},
		}).
		CorruptFills("!!!")
	loc := &stubLocator{queue: []*types.ElementDiscoveryResult{domResult("#email", 0.9)}}
	ex := newExecutor(drv, loc)

	result := ex.Execute(context.Background(), step("type", map[string]string{"text": "hello@example.com"}))

	// The mismatch only warns; the DOM write is authoritative.
	assert.True(t, result.Succeeded())
}

func TestExecute_RecursionLimit(t *testing.T) {
	drv := mocks.NewMockDriver().
		AddElement("#flaky", mocks.MockElement{Tag: "button", Visible: true}).
		FailInteraction("#flaky", types.NewError(types.ErrTransient, "element detached"))
	// Every discovery, including rediscovery, keeps proposing the same
	// failing element, so the DOM and fallback paths alternate.
	loc := &stubLocator{queue: []*types.ElementDiscoveryResult{domResult("#flaky", 0.9)}}
	ex := newExecutor(drv, loc)

	result := ex.Execute(context.Background(), step("click", nil))

	assert.Equal(t, types.StatusFailure, result.Status)
	assert.Contains(t, result.Error, "recursion limit")
	// No more than MaxRecursionDepth+1 DOM attempts.
	assert.Len(t, drv.Interactions, 3)
	assert.NotNil(t, result.Snapshot)
}

func TestExecute_FallbackRecoversToDOM(t *testing.T) {
	drv := mocks.NewMockDriver().
		AddElement("#btn", mocks.MockElement{Tag: "button", Visible: true})
	loc := &stubLocator{queue: []*types.ElementDiscoveryResult{
		visionResult(),
		domResult("#btn", 0.9),
	}}
	ex := newExecutor(drv, loc)

	result := ex.Execute(context.Background(), step("click", nil))

	assert.True(t, result.Succeeded())
	assert.Equal(t, "#btn", result.Selector)
	assert.GreaterOrEqual(t, loc.calls, 2)
}

func TestExecute_VisionCoordinatesExtractSelector(t *testing.T) {
	drv := mocks.NewMockDriver().
		AddElement("#from-point", mocks.MockElement{Tag: "button", Visible: true})
	loc := &stubLocator{
		queue: []*types.ElementDiscoveryResult{{
			Method:     types.MethodVision,
			Confidence: 0.7,
			Strategy:   "vision",
			Metadata:   map[string]string{"x": "120", "y": "240"},
		}},
		coord: "#from-point",
	}
	ex := newExecutor(drv, loc)

	result := ex.Execute(context.Background(), step("click", nil))

	assert.True(t, result.Succeeded())
	assert.Equal(t, "#from-point", result.Selector)
	// Resolution came from coordinates, not another discovery round.
	assert.Equal(t, 1, loc.calls)
}

func TestExecute_CouldNotLocate(t *testing.T) {
	ex := newExecutor(mocks.NewMockDriver(), &stubLocator{})

	result := ex.Execute(context.Background(), step("click", map[string]string{"description": "the missing button"}))

	assert.Equal(t, types.StatusFailure, result.Status)
	assert.Contains(t, result.Error, "could not locate element")
	assert.Contains(t, result.Error, "the missing button")
}

func TestExecute_TypeLastResortInput(t *testing.T) {
	drv := mocks.NewMockDriver().
		AddElement("#lonely", mocks.MockElement{
			Tag: "input", Visible: true,
			Attributes: map[string]string{"type": "text"},
		})
	ex := newExecutor(drv, &stubLocator{})

	result := ex.Execute(context.Background(), step("type", map[string]string{"text": "fallback"}))

	assert.True(t, result.Succeeded())
	assert.Equal(t, "#lonely", result.Selector)
	value, err := drv.InputValue(context.Background(), "#lonely")
	require.NoError(t, err)
	assert.Equal(t, "fallback", value)
}

func TestExecute_UnknownAction(t *testing.T) {
	ex := newExecutor(mocks.NewMockDriver(), &stubLocator{})

	result := ex.Execute(context.Background(), step("teleport", nil))
	assert.Equal(t, types.StatusError, result.Status)
}
