package mocks

import (
	"context"
	"sync"

	"github.com/kestrelqa/kestrel/llm"
)

// CompletionCall records one Complete invocation.
type CompletionCall struct {
	Request  *llm.CompletionRequest
	Response string
	Err      error
}

// MockCompletion implements llm.Client with scripted responses, error
// injection, and call recording.
type MockCompletion struct {
	mu sync.Mutex

	responses []string // consumed in order; last one repeats
	err       error
	failFirst int // fail the first N calls with err, then succeed
	fn        func(ctx context.Context, req *llm.CompletionRequest) (string, error)

	calls []CompletionCall
}

// NewMockCompletion creates a mock that returns "{}" by default.
func NewMockCompletion() *MockCompletion {
	return &MockCompletion{responses: []string{"{}"}}
}

// WithResponses scripts responses, consumed in order (last repeats).
func (m *MockCompletion) WithResponses(responses ...string) *MockCompletion {
	m.responses = responses
	return m
}

// WithError makes every call fail with err.
func (m *MockCompletion) WithError(err error) *MockCompletion {
	m.err = err
	return m
}

// FailFirst makes the first n calls fail with err, then succeed normally.
func (m *MockCompletion) FailFirst(n int, err error) *MockCompletion {
	m.failFirst = n
	m.err = err
	return m
}

// WithFunc overrides all behavior with fn.
func (m *MockCompletion) WithFunc(fn func(ctx context.Context, req *llm.CompletionRequest) (string, error)) *MockCompletion {
	m.fn = fn
	return m
}

// Complete implements llm.Client.
func (m *MockCompletion) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fn != nil {
		resp, err := m.fn(ctx, req)
		m.calls = append(m.calls, CompletionCall{Request: req, Response: resp, Err: err})
		return resp, err
	}

	callIdx := len(m.calls)
	if m.err != nil && (m.failFirst == 0 || callIdx < m.failFirst) {
		m.calls = append(m.calls, CompletionCall{Request: req, Err: m.err})
		return "", m.err
	}

	idx := callIdx
	if m.failFirst > 0 {
		idx -= m.failFirst
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	if idx < 0 {
		idx = 0
	}
	resp := m.responses[idx]
	m.calls = append(m.calls, CompletionCall{Request: req, Response: resp})
	return resp, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockCompletion) Calls() []CompletionCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionCall{}, m.calls...)
}

// CallCount returns how many times Complete ran.
func (m *MockCompletion) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
