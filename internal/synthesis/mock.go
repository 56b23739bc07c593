package synthesis

import (
	"context"
	"sync"
	"time"
)

// MockSynthesizer returns deterministic clips for tests. The payload is the
// text itself and the duration is fixed per clip unless overridden.
type MockSynthesizer struct {
	mu           sync.Mutex
	err          error
	clipDuration time.Duration
	calls        []string
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{clipDuration: 20 * time.Millisecond}
}

func (m *MockSynthesizer) SetClipDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clipDuration = d
}

func (m *MockSynthesizer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockSynthesizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockSynthesizer) Synthesize(_ context.Context, text string, _ Params, encoding string, sampleRate int) (Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, text)
	if m.err != nil {
		return Clip{}, m.err
	}
	return Clip{
		Text:       text,
		Audio:      []byte(text),
		Encoding:   encoding,
		SampleRate: sampleRate,
		Duration:   m.clipDuration,
	}, nil
}
