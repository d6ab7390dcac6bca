package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelqa/kestrel/browser"
	"github.com/kestrelqa/kestrel/types"
)

// MockElement scripts one selector's resolution.
type MockElement struct {
	Count      int
	Visible    bool
	Tag        string
	Attributes map[string]string
	Text       string
	Box        types.BoundingBox
	Value      string
}

// Interaction records one click/fill/hover.
type Interaction struct {
	Kind     string
	Selector string
	Value    string
}

// MockDriver implements browser.Driver against a scripted DOM: a
// selector to element table plus recorded interactions, with
// per-selector error injection.
type MockDriver struct {
	mu sync.Mutex

	elements  map[string]*MockElement
	structure string
	url       string
	title     string
	html      string
	shot      []byte
	atPoint   *browser.ElementSummary

	interactErr map[string]error
	failFills   int // fail the first N fills on any selector
	corruptFill string

	Interactions []Interaction
	Navigations  []string
}

// NewMockDriver creates an empty scripted world.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		elements:    make(map[string]*MockElement),
		interactErr: make(map[string]error),
		url:         "https://example.test/",
		title:       "Example",
		html:        "<html><body></body></html>",
		shot:        []byte("png"),
	}
}

// AddElement scripts a selector resolving to a single visible element.
func (d *MockDriver) AddElement(selector string, el MockElement) *MockDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el.Count == 0 {
		el.Count = 1
	}
	cp := el
	if cp.Attributes == nil {
		cp.Attributes = map[string]string{}
	}
	d.elements[selector] = &cp
	return d
}

// RemoveElement drops a selector from the world.
func (d *MockDriver) RemoveElement(selector string) *MockDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.elements, selector)
	return d
}

// WithStructure scripts the structural summary.
func (d *MockDriver) WithStructure(summary string) *MockDriver {
	d.structure = summary
	return d
}

// WithPage scripts URL, title and HTML.
func (d *MockDriver) WithPage(url, title, html string) *MockDriver {
	d.url, d.title, d.html = url, title, html
	return d
}

// WithElementAtPoint scripts ElementAtPoint.
func (d *MockDriver) WithElementAtPoint(s *browser.ElementSummary) *MockDriver {
	d.atPoint = s
	return d
}

// FailInteraction makes click/fill/hover on selector return err.
func (d *MockDriver) FailInteraction(selector string, err error) *MockDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interactErr[selector] = err
	return d
}

// CorruptFills makes every fill store value+suffix, so read-back differs.
func (d *MockDriver) CorruptFills(suffix string) *MockDriver {
	d.corruptFill = suffix
	return d
}

func (d *MockDriver) get(selector string) (*MockElement, bool) {
	el, ok := d.elements[selector]
	return el, ok
}

// Navigate implements browser.Driver.
func (d *MockDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Navigations = append(d.Navigations, url)
	d.url = url
	return nil
}

// Count implements browser.Driver.
func (d *MockDriver) Count(ctx context.Context, selector string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.get(selector); ok {
		return el.Count, nil
	}
	return 0, nil
}

// IsVisible implements browser.Driver.
func (d *MockDriver) IsVisible(ctx context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.get(selector); ok {
		return el.Visible, nil
	}
	return false, nil
}

// WaitVisible implements browser.Driver.
func (d *MockDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	ok, _ := d.IsVisible(ctx, selector)
	if !ok {
		return types.Errorf(types.ErrElementNotFound, "timed out waiting for %q", selector)
	}
	return nil
}

func (d *MockDriver) interact(kind, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err, ok := d.interactErr[selector]; ok && err != nil {
		d.Interactions = append(d.Interactions, Interaction{Kind: kind, Selector: selector, Value: value})
		return err
	}
	el, ok := d.get(selector)
	if !ok || el.Count == 0 {
		return types.Errorf(types.ErrElementNotFound, "no element matches %q", selector)
	}
	d.Interactions = append(d.Interactions, Interaction{Kind: kind, Selector: selector, Value: value})
	if kind == "fill" {
		el.Value = value + d.corruptFill
	}
	return nil
}

// Click implements browser.Driver.
func (d *MockDriver) Click(ctx context.Context, selector string) error {
	return d.interact("click", selector, "")
}

// Fill implements browser.Driver.
func (d *MockDriver) Fill(ctx context.Context, selector, value string) error {
	return d.interact("fill", selector, value)
}

// Hover implements browser.Driver.
func (d *MockDriver) Hover(ctx context.Context, selector string) error {
	return d.interact("hover", selector, "")
}

// TextContent implements browser.Driver.
func (d *MockDriver) TextContent(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.get(selector); ok {
		return el.Text, nil
	}
	return "", types.Errorf(types.ErrElementNotFound, "no element matches %q", selector)
}

// InputValue implements browser.Driver.
func (d *MockDriver) InputValue(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.get(selector); ok {
		return el.Value, nil
	}
	return "", types.Errorf(types.ErrElementNotFound, "no element matches %q", selector)
}

// ElementInfo implements browser.Driver.
func (d *MockDriver) ElementInfo(ctx context.Context, selector string) (*types.ElementInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.get(selector)
	if !ok || el.Count == 0 {
		return nil, types.Errorf(types.ErrElementNotFound, "no element matches %q", selector)
	}
	box := el.Box
	return &types.ElementInfo{
		Tag:        el.Tag,
		Attributes: el.Attributes,
		Text:       el.Text,
		Position:   &box,
	}, nil
}

// Enumerate implements browser.Driver.
func (d *MockDriver) Enumerate(ctx context.Context, tags []string) ([]browser.ElementSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	var out []browser.ElementSummary
	for selector, el := range d.elements {
		if len(want) > 0 && !want[el.Tag] {
			continue
		}
		out = append(out, browser.ElementSummary{
			Selector:   selector,
			Tag:        el.Tag,
			Text:       el.Text,
			Attributes: el.Attributes,
			Visible:    el.Visible,
			Box:        el.Box,
		})
	}
	return out, nil
}

// ElementAtPoint implements browser.Driver.
func (d *MockDriver) ElementAtPoint(ctx context.Context, x, y float64) (*browser.ElementSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.atPoint == nil {
		return nil, types.Errorf(types.ErrElementNotFound, "no element at (%.0f, %.0f)", x, y)
	}
	cp := *d.atPoint
	return &cp, nil
}

// ExtractStructure implements browser.Driver.
func (d *MockDriver) ExtractStructure(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.structure, nil
}

// Screenshot implements browser.Driver.
func (d *MockDriver) Screenshot(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shot, nil
}

// URL implements browser.Driver.
func (d *MockDriver) URL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

// Title implements browser.Driver.
func (d *MockDriver) Title(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title, nil
}

// HTML implements browser.Driver.
func (d *MockDriver) HTML(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.html, nil
}

// Close implements browser.Driver.
func (d *MockDriver) Close() error { return nil }
