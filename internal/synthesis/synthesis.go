package synthesis

import (
	"context"
	"time"
)

// Clip is one synthesized utterance ready for playback.
type Clip struct {
	Text       string
	Audio      []byte
	Encoding   string // "mulaw", "linear16" or "mp3"
	SampleRate int
	Duration   time.Duration
}

// Params select the synthesis voice.
type Params struct {
	LanguageCode string
	Voice        string
	SpeakingRate float64
}

// Synthesizer renders text to audio through an external service.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p Params, encoding string, sampleRate int) (Clip, error)
}

// EstimateDuration approximates speech length from text for encodings where
// the byte count gives no exact sample count. Roughly 0.25 s per character
// plus lead-in padding, tuned for Japanese telephony speech.
func EstimateDuration(text string) time.Duration {
	runes := len([]rune(text))
	return time.Duration(float64(runes)*0.25*float64(time.Second)) + 2*time.Second
}

// ClipDuration computes the exact duration when the encoding allows it and
// falls back to the text estimate otherwise.
func ClipDuration(text string, encoding string, audioLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return EstimateDuration(text)
	}
	switch encoding {
	case "mulaw":
		return time.Duration(audioLen) * time.Second / time.Duration(sampleRate)
	case "linear16":
		return time.Duration(audioLen/2) * time.Second / time.Duration(sampleRate)
	default:
		return EstimateDuration(text)
	}
}
