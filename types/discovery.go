package types

// DiscoveryMethod tells the executor how a discovered element should be
// resolved at execution time.
type DiscoveryMethod string

const (
	// MethodDOM means the selector is a structural locator usable directly.
	MethodDOM DiscoveryMethod = "dom"
	// MethodVision defers resolution to the perceptual path; no selector
	// is available yet.
	MethodVision DiscoveryMethod = "vision"
)

// BoundingBox is an element's position and size in page coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the box's center point.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// ElementInfo describes the element a discovery result points at.
type ElementInfo struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text,omitempty"`
	Position   *BoundingBox      `json:"position,omitempty"`
}

// ElementDiscoveryResult is the outcome of one discovery call. Results are
// produced fresh per call and never mutated, only superseded.
type ElementDiscoveryResult struct {
	Method       DiscoveryMethod   `json:"method"`
	Selector     string            `json:"selector,omitempty"`
	Confidence   float64           `json:"confidence"`
	Alternatives []string          `json:"alternatives,omitempty"`
	ElementInfo  *ElementInfo      `json:"element_info,omitempty"`
	Strategy     string            `json:"strategy"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsVision reports whether resolution was deferred to the perceptual path.
func (r *ElementDiscoveryResult) IsVision() bool {
	return r != nil && r.Method == MethodVision
}
