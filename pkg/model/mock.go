package model

import (
	"context"
	"sync"
)

// MockClient replays scripted outcomes in order. Once the script is
// exhausted the last entry repeats. Used by tests and dry runs.
type MockClient struct {
	mu      sync.Mutex
	script  []mockOutcome
	cursor  int
	history []Request
}

type mockOutcome struct {
	resp Response
	err  error
}

// NewMockClient creates an empty mock; script it with Respond/Fail.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Respond appends a successful outcome to the script.
func (m *MockClient) Respond(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockOutcome{resp: Response{Content: content}})
	return m
}

// Fail appends a failing outcome to the script.
func (m *MockClient) Fail(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockOutcome{err: err})
	return m
}

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, req)

	if len(m.script) == 0 {
		return Response{Content: "Decision: defer\nConfidence: 0.0\nReasoning: mock client has no script"}, nil
	}
	out := m.script[m.cursor]
	if m.cursor < len(m.script)-1 {
		m.cursor++
	}
	return out.resp, out.err
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// LastRequest returns the most recent request, if any.
func (m *MockClient) LastRequest() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Request{}, false
	}
	return m.history[len(m.history)-1], true
}
