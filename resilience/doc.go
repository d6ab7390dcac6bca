// Package resilience provides the shared retry and circuit-breaker kernel.
//
// Every component that calls the LLM completion service routes through this
// package: the retryer bounds transient failures with backoff and jitter,
// and the breaker registry shares one failure state per logical operation
// key across all concurrent executions, so one degraded upstream protects
// every caller at once.
package resilience
