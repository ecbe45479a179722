package model

import (
	"context"
	"sync"
)

// MockGenerator is a scripted Generator for tests.
//
// Responses are returned in order; once the script is exhausted the last
// response repeats. Every request is recorded for assertion. Err, when set,
// is returned on every call instead of a response.
type MockGenerator struct {
	mu        sync.Mutex
	Responses []Response
	Err       error
	calls     []Request
	next      int
}

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if m.Err != nil {
		return Response{}, m.Err
	}
	if len(m.Responses) == 0 {
		return Response{Text: "mock response", Model: "mock"}, nil
	}
	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.next++
	return m.Responses[idx], nil
}

// Calls returns a copy of the recorded requests.
func (m *MockGenerator) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount reports how many times Generate ran.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
