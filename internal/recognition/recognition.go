package recognition

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStreamFailed reports that the recognizer transport could not be
	// opened or died mid-session.
	ErrStreamFailed = errors.New("recognition stream failed")
)

// Event is one transcript hypothesis. Events on a stream arrive in
// non-decreasing timestamp order; partials are superseded by later events,
// never retracted.
type Event struct {
	Text       string
	Confidence float64
	IsFinal    bool
	Timestamp  time.Time
}

// Config selects the recognizer session parameters.
type Config struct {
	Encoding        string // "mulaw" or "linear16"
	SampleRateHertz int
	LanguageCode    string
	Continuous      bool
	PhraseHints     []string
}

// Stream is one live recognition exchange. Feed never blocks on the
// recognizer; audio is queued internally and dropped if the queue is full.
// Events closes after Stop drains in-flight finals or the transport fails.
type Stream interface {
	Feed(ctx context.Context, audio []byte) error
	Stop()
	Events() <-chan Event
	Err() error
}

// Provider opens recognition sessions against an external recognizer.
type Provider interface {
	OpenStream(ctx context.Context, cfg Config) (Stream, error)
	Recognize(ctx context.Context, cfg Config, audio []byte) (Event, error)
}
