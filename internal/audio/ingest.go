package audio

import "sync"

// Default flush thresholds, counted in chunks, assuming 20 ms telephony
// frames: 25 chunks is ~0.5 s of speech, 150 is ~3 s. Recitation mode widens
// both so read-back utterances are not truncated mid-sentence.
const (
	DefaultMinChunks           = 25
	DefaultMaxChunks           = 150
	DefaultRecitationMinChunks = 100
	DefaultRecitationMaxChunks = 250
)

// IngestBuffer accumulates caller chunks for one call and decides when the
// accumulated audio forms a complete utterance. The mute-while-playing
// policy lives with the call state; the buffer only counts and flushes.
type IngestBuffer struct {
	mu            sync.Mutex
	chunks        []Chunk
	minChunks     int
	maxChunks     int
	recitationMin int
	recitationMax int
	recitation    bool
}

type IngestOption func(*IngestBuffer)

// WithThresholds sets the normal-mode flush trigger and hard cap.
// A zero min disables the trigger; the cap still forces a flush.
func WithThresholds(min, max int) IngestOption {
	return func(b *IngestBuffer) {
		b.minChunks = min
		b.maxChunks = max
	}
}

// WithRecitationThresholds sets the widened thresholds used while the
// caller is reading information back.
func WithRecitationThresholds(min, max int) IngestOption {
	return func(b *IngestBuffer) {
		b.recitationMin = min
		b.recitationMax = max
	}
}

func NewIngestBuffer(opts ...IngestOption) *IngestBuffer {
	b := &IngestBuffer{
		minChunks:     DefaultMinChunks,
		maxChunks:     DefaultMaxChunks,
		recitationMin: DefaultRecitationMinChunks,
		recitationMax: DefaultRecitationMaxChunks,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxChunks < b.minChunks {
		b.maxChunks = b.minChunks
	}
	if b.recitationMax < b.recitationMin {
		b.recitationMax = b.recitationMin
	}
	return b
}

// Ingest appends one chunk and reports whether the buffer now holds a
// complete utterance.
func (b *IngestBuffer) Ingest(c Chunk) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, c)
	return b.readyLocked()
}

func (b *IngestBuffer) readyLocked() bool {
	min, max := b.minChunks, b.maxChunks
	if b.recitation {
		min, max = b.recitationMin, b.recitationMax
	}
	n := len(b.chunks)
	if min > 0 && n >= min {
		return true
	}
	return n >= max
}

// Flush returns the accumulated chunks and clears the buffer. Flushing an
// empty buffer returns nil.
func (b *IngestBuffer) Flush() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return nil
	}
	out := b.chunks
	b.chunks = nil
	return out
}

func (b *IngestBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

func (b *IngestBuffer) SetRecitation(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recitation = on
}

func (b *IngestBuffer) Recitation() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recitation
}
