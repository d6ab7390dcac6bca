// Package discovery locates page elements from natural-language
// descriptions. Resolution proceeds through ordered layers: hint
// validation, pluggable strategies, weighted full-structure scoring,
// attribute/text pattern fallback, and finally deferral to perceptual
// resolution.
package discovery
