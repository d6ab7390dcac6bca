package discovery

import (
	"regexp"
	"strings"
)

// Terms holds the key phrases and words extracted from a free-text element
// description. Phrases carry more signal than individual words.
type Terms struct {
	// Phrases are quoted strings or capitalized word runs, in order of
	// appearance. "the 'Sign In' button" yields the phrase "Sign In".
	Phrases []string
	// Words are the remaining significant words, lowercased.
	Words []string
}

// All returns phrases followed by words, for callers that treat them
// uniformly.
func (t Terms) All() []string {
	out := make([]string, 0, len(t.Phrases)+len(t.Words))
	out = append(out, t.Phrases...)
	out = append(out, t.Words...)
	return out
}

// Empty reports whether extraction found nothing usable.
func (t Terms) Empty() bool {
	return len(t.Phrases) == 0 && len(t.Words) == 0
}

// TermExtractor turns a description into candidate search terms. Kept as an
// interface so the scorer can be tested independently of the extraction
// heuristics.
type TermExtractor interface {
	Extract(description string) Terms
}

var (
	quotedRe      = regexp.MustCompile(`["'\x60]([^"'\x60]+)["'\x60]`)
	capitalizedRe = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*\b`)
	wordRe        = regexp.MustCompile(`[a-zA-Z0-9]+`)
)

// stopwords are filler and instruction words that carry no element identity.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "on": {}, "in": {}, "to": {}, "at": {},
	"of": {}, "for": {}, "with": {}, "and": {}, "or": {}, "is": {}, "it": {},
	"that": {}, "this": {}, "then": {}, "into": {}, "from": {}, "page": {},
	"click": {}, "type": {}, "hover": {}, "enter": {}, "press": {},
	"select": {}, "verify": {}, "check": {}, "open": {}, "go": {},
}

// roleWords describe what an element is rather than which one it is. They
// are excluded from terms but inform tag affinity during scoring.
var roleWords = map[string]struct{}{
	"button": {}, "link": {}, "tab": {}, "field": {}, "input": {},
	"box": {}, "checkbox": {}, "dropdown": {}, "menu": {}, "icon": {},
	"text": {}, "area": {}, "element": {}, "item": {},
}

// RegexExtractor is the default regex-based term extractor.
type RegexExtractor struct{}

// NewRegexExtractor creates the default extractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// Extract pulls quoted phrases first, then capitalized runs, then the
// remaining significant words.
func (e *RegexExtractor) Extract(description string) Terms {
	var t Terms
	seen := map[string]struct{}{}

	add := func(phrase string) {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			return
		}
		key := strings.ToLower(phrase)
		if _, dup := seen[key]; dup {
			return
		}
		if _, role := roleWords[key]; role {
			return
		}
		if _, stop := stopwords[key]; stop {
			return
		}
		seen[key] = struct{}{}
		t.Phrases = append(t.Phrases, phrase)
	}

	for _, m := range quotedRe.FindAllStringSubmatch(description, -1) {
		add(m[1])
	}
	// Strip quoted regions so capitalized words inside them are not
	// extracted twice.
	stripped := quotedRe.ReplaceAllString(description, " ")
	for _, m := range capitalizedRe.FindAllString(stripped, -1) {
		add(m)
	}

	for _, w := range wordRe.FindAllString(strings.ToLower(description), -1) {
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, role := roleWords[w]; role {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		if len(w) < 3 {
			continue
		}
		seen[w] = struct{}{}
		t.Words = append(t.Words, w)
	}

	return t
}

// RoleHint returns the first role word found in the description ("button",
// "tab", "field", ...) or "" when none appears.
func RoleHint(description string) string {
	for _, w := range wordRe.FindAllString(strings.ToLower(description), -1) {
		if _, ok := roleWords[w]; ok {
			return w
		}
	}
	return ""
}
