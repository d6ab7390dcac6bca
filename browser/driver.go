package browser

import (
	"context"
	"time"

	"github.com/kestrelqa/kestrel/types"
)

// ElementSummary is one enumerated element with enough context for the
// discovery engine to score it without further round trips.
type ElementSummary struct {
	Selector   string            `json:"selector"`
	Tag        string            `json:"tag"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Visible    bool              `json:"visible"`
	Box        types.BoundingBox `json:"box"`
}

// Config configures a browser session.
type Config struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent,omitempty"`
	NavTimeout     time.Duration `yaml:"nav_timeout" json:"nav_timeout"`
	ActionTimeout  time.Duration `yaml:"action_timeout" json:"action_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		NavTimeout:     30 * time.Second,
		ActionTimeout:  10 * time.Second,
	}
}

// Driver is the capability surface the engine consumes. One driver owns one
// browser session; steps within a plan run strictly sequentially against
// it because each action changes the page state the next one reads.
type Driver interface {
	// Navigate loads a URL, waiting for the load event up to timeout
	// (not network idle, to tolerate continuous background traffic).
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// Count returns how many elements match the selector.
	Count(ctx context.Context, selector string) (int, error)

	// IsVisible reports whether the first match is rendered and visible.
	IsVisible(ctx context.Context, selector string) (bool, error)

	// WaitVisible blocks until the selector is visible or timeout expires.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Click, Fill and Hover interact with the first matching element.
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error

	// TextContent returns the first match's text.
	TextContent(ctx context.Context, selector string) (string, error)

	// InputValue returns the first match's current input value.
	InputValue(ctx context.Context, selector string) (string, error)

	// ElementInfo describes the first match (tag, attributes, text, box).
	ElementInfo(ctx context.Context, selector string) (*types.ElementInfo, error)

	// Enumerate returns summaries of all elements matching any of the
	// given tag names or roles, with generated stable selectors.
	Enumerate(ctx context.Context, tags []string) ([]ElementSummary, error)

	// ElementAtPoint describes the topmost element at page coordinates.
	ElementAtPoint(ctx context.Context, x, y float64) (*ElementSummary, error)

	// ExtractStructure returns a bounded, de-duplicated text summary of
	// the page's interactive and labeled elements (~200 entries max).
	ExtractStructure(ctx context.Context) (string, error)

	// Screenshot captures the full page as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// URL, Title and HTML report current page state for verification and
	// diagnostics.
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	// Close releases the browser session.
	Close() error
}
