// Package llm defines the completion-service contract the engine depends
// on, plus an OpenAI-compatible HTTP implementation.
//
// The engine never calls a provider directly: every completion goes through
// the resilience kernel (retry + shared circuit breaker), and the HTTP
// client additionally rate-limits itself so a burst of concurrent test
// executions cannot stampede the upstream.
package llm
