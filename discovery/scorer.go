package discovery

import (
	"sort"
	"strings"

	"github.com/kestrelqa/kestrel/browser"
	"github.com/kestrelqa/kestrel/types"
)

// Scoring weights. The literal values are tuned empirically; what matters
// is the ordering: exact match > partial match > tag affinity > identifier
// containment > visibility.
const (
	scoreExactMatch   = 50.0
	scorePartialText  = 25.0
	scorePartialAttr  = 20.0
	scoreTagAffinity  = 10.0
	scoreIdentifier   = 10.0
	scoreVisible      = 5.0
	confidenceFloor   = 0.5
	confidenceCeiling = 0.95
)

// labelAttrs are the attributes that carry human-readable element labels.
var labelAttrs = []string{"title", "aria-label", "placeholder", "value", "alt", "name"}

// candidate is a scored enumeration entry.
type candidate struct {
	el    browser.ElementSummary
	score float64
}

// confidence converts a raw score to a [0.5, 0.95] confidence.
func (c candidate) confidence() float64 {
	conf := c.score / 100
	if conf < confidenceFloor {
		conf = confidenceFloor
	}
	if conf > confidenceCeiling {
		conf = confidenceCeiling
	}
	return conf
}

// candidateTags returns the tag set worth enumerating for an action kind.
func candidateTags(kind types.ActionKind) []string {
	switch kind {
	case types.KindType:
		return []string{"input", "textarea", "select"}
	case types.KindClick:
		return []string{"button", "a", "input", "div", "span"}
	case types.KindHover:
		return []string{"a", "button", "div", "span", "li"}
	default:
		return []string{"a", "button", "input", "div", "span", "h1", "h2", "h3", "p", "li"}
	}
}

// scoreElement applies the weighted heuristic to one enumerated element.
func scoreElement(el browser.ElementSummary, terms Terms, kind types.ActionKind) float64 {
	var score float64
	text := strings.ToLower(strings.TrimSpace(el.Text))

	for _, phrase := range terms.Phrases {
		p := strings.ToLower(phrase)
		if text == p {
			score += scoreExactMatch
			continue
		}
		if text != "" && strings.Contains(text, p) {
			score += scorePartialText
			continue
		}
		// Label attributes score at the partial weight only; attribute
		// specificity is the pattern-fallback layer's job.
		for _, attr := range labelAttrs {
			if v := el.Attributes[attr]; v != "" && strings.Contains(strings.ToLower(v), p) {
				score += scorePartialAttr
				break
			}
		}
	}

	for _, word := range terms.Words {
		if text != "" && strings.Contains(text, word) {
			score += scorePartialText / 2
		}
		ids := el.Attributes["id"] + " " + el.Attributes["name"] + " " + el.Attributes["class"]
		if strings.Contains(strings.ToLower(ids), word) {
			score += scoreIdentifier
		}
	}

	if tagAffinity(el, kind) {
		score += scoreTagAffinity
	}
	if el.Visible {
		score += scoreVisible
	}

	return score
}

func tagAffinity(el browser.ElementSummary, kind types.ActionKind) bool {
	tag := strings.ToLower(el.Tag)
	switch kind {
	case types.KindClick:
		if tag == "button" || tag == "a" {
			return true
		}
		t := el.Attributes["type"]
		return tag == "input" && (t == "submit" || t == "button")
	case types.KindType:
		return tag == "input" || tag == "textarea"
	case types.KindHover:
		return tag == "a" || tag == "button"
	}
	return false
}

// rankCandidates scores and sorts all enumerated elements, best first.
func rankCandidates(elements []browser.ElementSummary, terms Terms, kind types.ActionKind) []candidate {
	out := make([]candidate, 0, len(elements))
	for _, el := range elements {
		s := scoreElement(el, terms, kind)
		if s <= 0 {
			continue
		}
		out = append(out, candidate{el: el, score: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// isTypable reports whether an element can receive keyboard input.
func isTypable(tag string, attrs map[string]string) bool {
	switch strings.ToLower(tag) {
	case "textarea":
		return true
	case "input":
		switch attrs["type"] {
		case "", "text", "email", "password", "search", "tel", "url", "number":
			return true
		}
	}
	return false
}
