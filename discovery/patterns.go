package discovery

import (
	"fmt"
	"strings"

	"github.com/kestrelqa/kestrel/types"
)

// Confidence tiers for pattern fallback, fixed by pattern specificity.
const (
	tierExactTitle  = 0.85
	tierAttrPartial = 0.75
	tierRoleType    = 0.65
	tierClass       = 0.55
)

// pattern is one fallback selector with its specificity tier.
type pattern struct {
	selector   string
	confidence float64
}

// buildPatterns produces the prioritized attribute/text pattern list for a
// description's terms and the action kind. Higher tiers come first; within
// a tier, phrase patterns precede word patterns.
func buildPatterns(terms Terms, kind types.ActionKind, role string) []pattern {
	var out []pattern
	seen := map[string]struct{}{}
	add := func(selector string, conf float64) {
		if _, dup := seen[selector]; dup {
			return
		}
		seen[selector] = struct{}{}
		out = append(out, pattern{selector: selector, confidence: conf})
	}

	// Exact title / aria-label matches.
	for _, p := range terms.Phrases {
		add(fmt.Sprintf(`a[title=%q]`, p), tierExactTitle)
		add(fmt.Sprintf(`button[title=%q]`, p), tierExactTitle)
		add(fmt.Sprintf(`[title=%q]`, p), tierExactTitle)
		add(fmt.Sprintf(`[aria-label=%q]`, p), tierExactTitle)
		if kind == types.KindType {
			add(fmt.Sprintf(`input[placeholder=%q]`, p), tierExactTitle)
			add(fmt.Sprintf(`input[name=%q]`, strings.ToLower(p)), tierExactTitle)
		}
	}

	// Partial attribute containment.
	for _, p := range terms.Phrases {
		add(fmt.Sprintf(`[title*=%q]`, p), tierAttrPartial)
		add(fmt.Sprintf(`[aria-label*=%q]`, p), tierAttrPartial)
		if kind == types.KindType {
			add(fmt.Sprintf(`input[placeholder*=%q]`, p), tierAttrPartial)
		}
	}
	for _, w := range terms.Words {
		add(fmt.Sprintf(`[title*=%q]`, w), tierAttrPartial)
		add(fmt.Sprintf(`[aria-label*=%q]`, w), tierAttrPartial)
		add(fmt.Sprintf(`[name*=%q]`, w), tierAttrPartial)
		add(fmt.Sprintf(`[id*=%q]`, w), tierAttrPartial)
	}

	// Role/type idioms.
	if role != "" {
		add(fmt.Sprintf(`[role=%q]`, role), tierRoleType)
	}
	switch kind {
	case types.KindClick:
		if hasAny(terms, "submit", "login", "sign") {
			add(`button[type="submit"]`, tierRoleType)
			add(`input[type="submit"]`, tierRoleType)
		}
		add(`[role="button"]`, tierRoleType)
	case types.KindType:
		if hasAny(terms, "search") {
			add(`input[type="search"]`, tierRoleType)
		}
		if hasAny(terms, "email", "mail") {
			add(`input[type="email"]`, tierRoleType)
		}
		if hasAny(terms, "password") {
			add(`input[type="password"]`, tierRoleType)
		}
		add(`input[type="text"]`, tierRoleType)
	}

	// Class containment, the least specific tier.
	for _, w := range terms.Words {
		add(fmt.Sprintf(`[class*=%q]`, w), tierClass)
	}
	for _, p := range terms.Phrases {
		w := strings.ToLower(strings.ReplaceAll(p, " ", "-"))
		add(fmt.Sprintf(`[class*=%q]`, w), tierClass)
	}

	return out
}

func hasAny(terms Terms, words ...string) bool {
	for _, candidate := range terms.All() {
		c := strings.ToLower(candidate)
		for _, w := range words {
			if strings.Contains(c, w) {
				return true
			}
		}
	}
	return false
}
