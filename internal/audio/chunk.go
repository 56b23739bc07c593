package audio

import "time"

// Track identifies which side of the call produced a chunk.
type Track string

const (
	TrackCaller Track = "caller"
	TrackAI     Track = "ai"
)

// Encoding tags the codec of a chunk payload.
type Encoding string

const (
	EncodingMULaw Encoding = "mulaw"
	EncodingPCM16 Encoding = "linear16"
	EncodingMP3   Encoding = "mp3"
)

// Chunk is an immutable slice of call audio. The payload is copied on
// construction and never mutated afterwards.
type Chunk struct {
	Data       []byte
	Encoding   Encoding
	SampleRate int
	Track      Track
	Timestamp  time.Time
}

func NewChunk(data []byte, enc Encoding, sampleRate int, track Track, at time.Time) Chunk {
	buf := make([]byte, len(data))
	copy(buf, data)
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Chunk{
		Data:       buf,
		Encoding:   enc,
		SampleRate: sampleRate,
		Track:      track,
		Timestamp:  at,
	}
}

// NewCallerChunk tags inbound transport media as caller audio.
func NewCallerChunk(data []byte, enc Encoding, sampleRate int, at time.Time) Chunk {
	return NewChunk(data, enc, sampleRate, TrackCaller, at)
}

// Concat joins chunk payloads in order into a single byte slice.
func Concat(chunks []Chunk) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c.Data)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out
}
