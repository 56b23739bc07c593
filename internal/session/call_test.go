package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/denwa-ai/denwa/internal/audio"
	"github.com/denwa-ai/denwa/internal/synthesis"
)

func mulawFrame() audio.Chunk {
	return audio.NewCallerChunk(make([]byte, 160), audio.EncodingMULaw, 8000, time.Now())
}

func newTestCall(t *testing.T) *Call {
	t.Helper()
	r := NewRegistry(time.Minute)
	c, err := r.Create("CA123", "ja-JP", audio.NewIngestBuffer(audio.WithThresholds(3, 10)))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}

func TestCallStateTransitions(t *testing.T) {
	c := newTestCall(t)
	steps := []State{
		StateAwaitingFirstUtterance,
		StateGreetingPlayback,
		StateListening,
		StateQuickAckPlayback,
		StateProcessingResponse,
		StateResponsePlayback,
		StateListening,
	}
	for _, to := range steps {
		if err := c.SetState(to); err != nil {
			t.Fatalf("SetState(%s) error = %v", to, err)
		}
	}
	if err := c.SetState(StateResponsePlayback); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("SetState(listening->response_playback) error = %v, want ErrInvalidTransition", err)
	}
	if err := c.SetState(StateTerminated); err != nil {
		t.Fatalf("SetState(terminated) error = %v", err)
	}
	if err := c.SetState(StateListening); !errors.Is(err, ErrTerminated) {
		t.Fatalf("SetState after terminate error = %v, want ErrTerminated", err)
	}
}

func TestCallMutesIngestDuringPlayback(t *testing.T) {
	c := newTestCall(t)
	if err := c.SetState(StateAwaitingFirstUtterance); err != nil {
		t.Fatalf("SetState error = %v", err)
	}
	if err := c.SetState(StateGreetingPlayback); err != nil {
		t.Fatalf("SetState error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, ready := c.IngestAudio(mulawFrame()); ready {
			t.Fatalf("IngestAudio() ready during playback, want muted")
		}
	}

	if err := c.SetState(StateListening); err != nil {
		t.Fatalf("SetState error = %v", err)
	}
	var flushed []audio.Chunk
	for i := 0; i < 3; i++ {
		var ready bool
		flushed, ready = c.IngestAudio(mulawFrame())
		if i < 2 && ready {
			t.Fatalf("IngestAudio() ready at %d chunks, want 3", i+1)
		}
		if i == 2 && !ready {
			t.Fatalf("IngestAudio() not ready at threshold")
		}
	}
	if len(flushed) != 3 {
		t.Fatalf("flushed len = %d, want 3", len(flushed))
	}
}

func TestCallMonitorTapReceivesChunksDuringPlayback(t *testing.T) {
	c := newTestCall(t)
	_ = c.SetState(StateAwaitingFirstUtterance)
	_ = c.SetState(StateGreetingPlayback)

	tap := make(chan audio.Chunk, 4)
	c.SetMonitor(tap)
	c.IngestAudio(mulawFrame())
	c.IngestAudio(mulawFrame())
	if len(tap) != 2 {
		t.Fatalf("monitor tap received %d chunks, want 2", len(tap))
	}

	c.ClearMonitor()
	c.IngestAudio(mulawFrame())
	if len(tap) != 2 {
		t.Fatalf("monitor tap received chunk after ClearMonitor")
	}
}

func TestClaimGreetingExactlyOnce(t *testing.T) {
	c := newTestCall(t)

	const claimants = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ClaimGreeting() {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("greeting claimed %d times, want exactly 1", count)
	}
}

func TestAtMostOnePlaybackPlaying(t *testing.T) {
	c := newTestCall(t)
	first := NewPlaybackJob(synthesis.Clip{Text: "a"})
	if err := c.BeginPlayback(first); err != nil {
		t.Fatalf("BeginPlayback(first) error = %v", err)
	}
	if !first.MarkPlaying() {
		t.Fatalf("MarkPlaying(first) = false")
	}

	second := NewPlaybackJob(synthesis.Clip{Text: "b"})
	if err := c.BeginPlayback(second); !errors.Is(err, ErrPlaybackActive) {
		t.Fatalf("BeginPlayback(second) error = %v, want ErrPlaybackActive", err)
	}

	if !first.MarkCompleted() {
		t.Fatalf("MarkCompleted(first) = false")
	}
	if err := c.BeginPlayback(second); err != nil {
		t.Fatalf("BeginPlayback(second) after completion error = %v", err)
	}
}

func TestPlaybackJobStatusGuards(t *testing.T) {
	j := NewPlaybackJob(synthesis.Clip{Text: "x", Duration: time.Second})
	if j.Status() != PlaybackPending {
		t.Fatalf("new job status = %s, want pending", j.Status())
	}
	if j.MarkInterrupted() {
		t.Fatalf("MarkInterrupted() from pending = true, want false")
	}
	if !j.MarkPlaying() {
		t.Fatalf("MarkPlaying() = false")
	}
	if j.MarkPlaying() {
		t.Fatalf("second MarkPlaying() = true, want false")
	}
	if !j.MarkInterrupted() {
		t.Fatalf("MarkInterrupted() from playing = false")
	}
	if j.MarkCompleted() {
		t.Fatalf("MarkCompleted() after interrupted = true, want false")
	}
}

func TestRecitationWidensThresholds(t *testing.T) {
	r := NewRegistry(time.Minute)
	c, err := r.Create("CA9", "ja-JP",
		audio.NewIngestBuffer(audio.WithThresholds(2, 10), audio.WithRecitationThresholds(4, 10)))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_ = c.SetState(StateAwaitingFirstUtterance)
	_ = c.SetState(StateGreetingPlayback)
	_ = c.SetState(StateListening)
	c.SetRecitation(true)

	ready := false
	count := 0
	for !ready && count < 10 {
		_, ready = c.IngestAudio(mulawFrame())
		count++
	}
	if count != 4 {
		t.Fatalf("flush after %d chunks in recitation mode, want 4", count)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(time.Minute)
	c, err := r.Create("CA1", "ja-JP", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Create("CA1", "ja-JP", nil); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate Create() error = %v, want ErrExists", err)
	}

	got, err := r.Get("CA1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != c {
		t.Fatalf("Get() returned a different call instance")
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", r.ActiveCount())
	}

	removed, err := r.Remove("CA1")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed.State() != StateTerminated {
		t.Fatalf("removed call state = %s, want terminated", removed.State())
	}
	select {
	case <-removed.Done():
	default:
		t.Fatalf("removed call context not cancelled")
	}
	if _, err := r.Get("CA1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after remove error = %v, want ErrNotFound", err)
	}
}
