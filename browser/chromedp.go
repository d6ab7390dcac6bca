package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kestrelqa/kestrel/types"
)

// ChromeDriver implements Driver on top of chromedp.
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      Config
	logger      *zap.Logger
}

// NewChromeDriver starts a browser session.
func NewChromeDriver(config Config, logger *zap.Logger) (*ChromeDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = DefaultConfig().ActionTimeout
	}
	if config.NavTimeout <= 0 {
		config.NavTimeout = DefaultConfig().NavTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	d := &ChromeDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		config:      config,
		logger:      logger.With(zap.String("component", "chrome_driver")),
	}

	if err := chromedp.Run(ctx); err != nil {
		allocCancel()
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Info("browser started",
		zap.Bool("headless", config.Headless),
		zap.Int("viewport_w", config.ViewportWidth),
		zap.Int("viewport_h", config.ViewportHeight))
	return d, nil
}

// run executes actions under a timeout derived from the session context.
// The caller ctx only gates early cancellation; chromedp actions must run
// on the session context to see the page.
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// eval runs a script and decodes its return value into out.
func (d *ChromeDriver) eval(ctx context.Context, script string, out any) error {
	return d.run(ctx, d.config.ActionTimeout, chromedp.Evaluate(script, out))
}

// Navigate implements Driver.
func (d *ChromeDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.config.NavTimeout
	}
	d.logger.Debug("navigating", zap.String("url", url))
	return d.run(ctx, timeout, chromedp.Navigate(url))
}

// Count implements Driver.
func (d *ChromeDriver) Count(ctx context.Context, selector string) (int, error) {
	var n int
	if err := d.eval(ctx, fmt.Sprintf(countScript, strconv.Quote(selector)), &n); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, types.Errorf(types.ErrValidation, "invalid selector %q", selector)
	}
	return n, nil
}

// IsVisible implements Driver.
func (d *ChromeDriver) IsVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	if err := d.eval(ctx, fmt.Sprintf(visibleScript, strconv.Quote(selector)), &visible); err != nil {
		return false, err
	}
	return visible, nil
}

// WaitVisible implements Driver.
func (d *ChromeDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.config.ActionTimeout
	}
	return d.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Click implements Driver.
func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, d.config.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

// Fill implements Driver.
func (d *ChromeDriver) Fill(ctx context.Context, selector, value string) error {
	return d.run(ctx, d.config.ActionTimeout,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Hover implements Driver.
func (d *ChromeDriver) Hover(ctx context.Context, selector string) error {
	var ok bool
	if err := d.eval(ctx, fmt.Sprintf(hoverScript, strconv.Quote(selector)), &ok); err != nil {
		return err
	}
	if !ok {
		return types.Errorf(types.ErrElementNotFound, "no element matches %q", selector)
	}
	return nil
}

// TextContent implements Driver.
func (d *ChromeDriver) TextContent(ctx context.Context, selector string) (string, error) {
	var text string
	if err := d.run(ctx, d.config.ActionTimeout, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

// InputValue implements Driver.
func (d *ChromeDriver) InputValue(ctx context.Context, selector string) (string, error) {
	var value string
	if err := d.run(ctx, d.config.ActionTimeout, chromedp.Value(selector, &value, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return value, nil
}

// ElementInfo implements Driver.
func (d *ChromeDriver) ElementInfo(ctx context.Context, selector string) (*types.ElementInfo, error) {
	var raw string
	if err := d.eval(ctx, fmt.Sprintf(elementInfoScript, strconv.Quote(selector)), &raw); err != nil {
		return nil, err
	}
	if raw == "null" {
		return nil, types.Errorf(types.ErrElementNotFound, "no element matches %q", selector)
	}
	var info types.ElementInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("decode element info: %w", err)
	}
	return &info, nil
}

// Enumerate implements Driver.
func (d *ChromeDriver) Enumerate(ctx context.Context, tags []string) ([]ElementSummary, error) {
	selectorList := ""
	for i, t := range tags {
		if i > 0 {
			selectorList += ", "
		}
		selectorList += t
	}

	var raw string
	if err := d.eval(ctx, fmt.Sprintf(enumerateScript, strconv.Quote(selectorList)), &raw); err != nil {
		return nil, err
	}
	var out []ElementSummary
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode enumeration: %w", err)
	}
	return out, nil
}

// ElementAtPoint implements Driver.
func (d *ChromeDriver) ElementAtPoint(ctx context.Context, x, y float64) (*ElementSummary, error) {
	var raw string
	if err := d.eval(ctx, fmt.Sprintf(elementAtPointScript, x, y), &raw); err != nil {
		return nil, err
	}
	if raw == "null" {
		return nil, types.Errorf(types.ErrElementNotFound, "no element at (%.0f, %.0f)", x, y)
	}
	var out ElementSummary
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode element at point: %w", err)
	}
	return &out, nil
}

// ExtractStructure implements Driver.
func (d *ChromeDriver) ExtractStructure(ctx context.Context) (string, error) {
	var summary string
	if err := d.eval(ctx, structureScript, &summary); err != nil {
		return "", err
	}
	return summary, nil
}

// Screenshot implements Driver.
func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.config.ActionTimeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// URL implements Driver.
func (d *ChromeDriver) URL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, d.config.ActionTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Title implements Driver.
func (d *ChromeDriver) Title(ctx context.Context) (string, error) {
	var title string
	if err := d.run(ctx, d.config.ActionTimeout, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// HTML implements Driver.
func (d *ChromeDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, d.config.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}
	return html, nil
}

// Close implements Driver.
func (d *ChromeDriver) Close() error {
	d.logger.Info("closing browser")
	d.cancel()
	d.allocCancel()
	return nil
}
