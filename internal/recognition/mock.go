package recognition

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a scripted recognizer for tests and the local simulator.
// Streams are driven by the test through Emit helpers; one-shot results are
// queued ahead of time.
type MockProvider struct {
	mu      sync.Mutex
	streams []*MockStream
	queued  []Event
	openErr error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// FailNextOpen makes the next OpenStream call return err.
func (p *MockProvider) FailNextOpen(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}

// QueueResult appends a one-shot result returned by Recognize in FIFO order.
func (p *MockProvider) QueueResult(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued = append(p.queued, ev)
}

func (p *MockProvider) OpenStream(_ context.Context, _ Config) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		err := p.openErr
		p.openErr = nil
		return nil, err
	}
	s := &MockStream{events: make(chan Event, 64)}
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *MockProvider) Recognize(_ context.Context, _ Config, _ []byte) (Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queued) == 0 {
		return Event{IsFinal: true, Timestamp: time.Now().UTC()}, nil
	}
	ev := p.queued[0]
	p.queued = p.queued[1:]
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev, nil
}

// LastStream returns the most recently opened stream, or nil.
func (p *MockProvider) LastStream() *MockStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// OpenCount reports how many streams have been opened.
func (p *MockProvider) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

type MockStream struct {
	mu     sync.Mutex
	events chan Event
	fed    int
	closed bool
	err    error
}

func (s *MockStream) Feed(_ context.Context, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if len(audio) > 0 {
		s.fed++
	}
	return nil
}

func (s *MockStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *MockStream) Events() <-chan Event {
	return s.events
}

func (s *MockStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FedChunks reports how many non-empty chunks were fed to the stream.
func (s *MockStream) FedChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed
}

// EmitPartial pushes an interim hypothesis to the stream consumer.
func (s *MockStream) EmitPartial(text string, confidence float64) {
	s.emit(Event{Text: text, Confidence: confidence, Timestamp: time.Now().UTC()})
}

// EmitFinal pushes a final result to the stream consumer.
func (s *MockStream) EmitFinal(text string, confidence float64) {
	s.emit(Event{Text: text, Confidence: confidence, IsFinal: true, Timestamp: time.Now().UTC()})
}

// FailWith records err and closes the event channel, simulating a dead
// recognizer transport.
func (s *MockStream) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.events)
}

func (s *MockStream) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}
