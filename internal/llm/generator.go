package llm

import "context"

// Message is one prior conversation entry passed as context.
type Message struct {
	Role string `json:"role"` // "caller" or "ai"
	Text string `json:"text"`
}

// Request carries the caller's utterance plus recent turn history.
type Request struct {
	Input   string    `json:"input"`
	History []Message `json:"history,omitempty"`
}

// Generator produces the assistant's reply text. Implementations are
// expected to be slow (seconds-scale) and fallible; callers bound every
// Generate with a context deadline.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
