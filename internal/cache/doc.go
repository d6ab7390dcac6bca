// Package cache provides the in-process structure cache.
// This package is internal and should not be imported by external projects.
//
// The cache holds extracted page-structure summaries keyed by URL, bounded
// by an LRU capacity, a per-entry TTL and a maximum entry size. It is
// deliberately shared across all concurrent test executions: executions
// visiting the same URL reuse one another's extraction work, at the cost
// of possible staleness within the TTL window.
package cache
