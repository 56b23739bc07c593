package recorder

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/denwa-ai/denwa/internal/audio"
	"github.com/denwa-ai/denwa/internal/synthesis"
)

var ErrEmptyTimeline = errors.New("recording timeline is empty")

// Segment is one placed stretch of call audio, either caller speech or the
// played portion of an AI clip.
type Segment struct {
	Track    audio.Track
	Text     string
	Offset   time.Duration
	Duration time.Duration
}

type placed struct {
	seg Segment
	pcm []byte
}

// Timeline assembles the full-call recording as a single mono PCM16 buffer.
// Caller audio is placed at the wall-clock offset it arrived; AI clips are
// anchored at the moment playback started and truncated to the portion the
// caller actually heard before a barge-in stopped the line.
type Timeline struct {
	mu         sync.Mutex
	sampleRate int
	start      time.Time
	// cursor keeps caller placement monotonic when chunk timestamps jitter
	// backwards (transport reordering).
	cursor time.Duration
	placed []placed
	now    func() time.Time
}

type TimelineOption func(*Timeline)

// WithClock substitutes the wall clock for deterministic tests.
func WithClock(now func() time.Time) TimelineOption {
	return func(t *Timeline) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTimeline(sampleRate int, opts ...TimelineOption) *Timeline {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	t := &Timeline{
		sampleRate: sampleRate,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	t.start = t.now()
	return t
}

// AddCallerAudio places inbound chunks on the timeline at their arrival
// offset. Chunks that cannot be decoded to PCM16 are dropped.
func (t *Timeline) AddCallerAudio(chunks []audio.Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range chunks {
		pcm := audio.ToPCM16(c)
		if len(pcm) == 0 {
			continue
		}
		at := c.Timestamp
		if at.IsZero() {
			at = t.now()
		}
		off := at.Sub(t.start)
		if off < t.cursor {
			off = t.cursor
		}
		dur := t.pcmDuration(len(pcm))
		t.placed = append(t.placed, placed{
			seg: Segment{Track: audio.TrackCaller, Offset: off, Duration: dur},
			pcm: pcm,
		})
		t.cursor = off + dur
	}
}

// AddAISegment places the audible portion of a played clip. The clip audio is
// cut at the played duration so an interrupted response occupies only the
// stretch the caller heard.
func (t *Timeline) AddAISegment(clip synthesis.Clip, startedAt time.Time, played time.Duration) {
	pcm := audio.ToPCM16(audio.Chunk{
		Data:       clip.Audio,
		Encoding:   audio.Encoding(clip.Encoding),
		SampleRate: clip.SampleRate,
	})
	if len(pcm) == 0 || played <= 0 {
		return
	}
	if clip.Duration > 0 && played > clip.Duration {
		played = clip.Duration
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n := t.pcmBytes(played); n < len(pcm) {
		pcm = pcm[:n]
	}
	if len(pcm) == 0 {
		return
	}

	off := startedAt.Sub(t.start)
	if off < 0 {
		off = 0
	}
	dur := t.pcmDuration(len(pcm))
	t.placed = append(t.placed, placed{
		seg: Segment{Track: audio.TrackAI, Text: clip.Text, Offset: off, Duration: dur},
		pcm: pcm,
	})
	if end := off + dur; end > t.cursor {
		t.cursor = end
	}
}

// Segments returns the placed segments in chronological order.
func (t *Timeline) Segments() []Segment {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Segment, len(t.placed))
	for i, p := range t.placed {
		out[i] = p.seg
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// ExportWAV renders the timeline into a single mono WAV file. Gaps between
// segments come out as silence; overlapping audio is last-writer-wins, which
// matches how barge-in truncation already bounds AI segments.
func (t *Timeline) ExportWAV() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.placed) == 0 {
		return nil, ErrEmptyTimeline
	}

	total := 0
	for _, p := range t.placed {
		end := t.pcmBytes(p.seg.Offset) + len(p.pcm)
		if end > total {
			total = end
		}
	}
	// Keep sample alignment.
	if total%2 != 0 {
		total++
	}

	buf := make([]byte, total)
	ordered := make([]placed, len(t.placed))
	copy(ordered, t.placed)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].seg.Offset < ordered[j].seg.Offset })
	for _, p := range ordered {
		at := t.pcmBytes(p.seg.Offset)
		if at%2 != 0 {
			at--
		}
		copy(buf[at:], p.pcm)
	}

	return audio.EncodeWAVPCM16LE(buf, t.sampleRate)
}

func (t *Timeline) pcmDuration(n int) time.Duration {
	return time.Duration(n/2) * time.Second / time.Duration(t.sampleRate)
}

func (t *Timeline) pcmBytes(d time.Duration) int {
	samples := int(d.Seconds() * float64(t.sampleRate))
	return samples * 2
}
