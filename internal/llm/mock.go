package llm

import (
	"context"
	"sync"
)

// MockGenerator replays queued replies for tests.
type MockGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	last    Request
	calls   int
}

func NewMockGenerator(replies ...string) *MockGenerator {
	return &MockGenerator{replies: replies}
}

func (m *MockGenerator) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockGenerator) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *MockGenerator) Generate(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = req
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "承知いたしました。", nil
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}
