package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/denwa-ai/denwa/internal/audio"
	"github.com/denwa-ai/denwa/internal/observability"
	"github.com/denwa-ai/denwa/internal/recognition"
	"github.com/denwa-ai/denwa/internal/session"
	"github.com/denwa-ai/denwa/internal/synthesis"
)

var (
	// ErrRecognitionStream reports a recognizer transport failure; the
	// current turn is abandoned and the session returns to listening.
	ErrRecognitionStream = errors.New("recognition stream unavailable")
	// ErrPlayback reports a synthesis or transport playback failure. Never
	// retried mid-call; retrying risks double-speaking.
	ErrPlayback = errors.New("playback failed")
	// ErrServiceUnavailable reports an LLM or TTS outage handled by playing
	// the apology filler.
	ErrServiceUnavailable = errors.New("external service unavailable")
)

const (
	defaultCaptureWindow      = 10 * time.Second
	defaultFinalizeWait       = 8 * time.Second
	defaultDegradedConfidence = 0.8
	defaultMinTriggerRunes    = 1
)

// Result is the outcome of one interruptible playback. Captured holds every
// inbound chunk observed while monitoring, regardless of outcome, for the
// call recorder.
type Result struct {
	Interrupted bool
	Transcript  string
	Confidence  float64
	Captured    []audio.Chunk
}

// Coordinator plays a clip while a live recognition session listens for the
// caller to cut in. The first non-empty transcript, interim or final, stops
// playback at once; recognition then keeps running until a final result or
// the bounded finalize window resolves the interrupting utterance.
type Coordinator struct {
	recognizer recognition.Provider
	metrics    *observability.Metrics

	captureWindow      time.Duration
	finalizeWait       time.Duration
	degradedConfidence float64
	// minTriggerRunes tunes barge-in sensitivity. The default of one rune
	// reproduces trigger-on-first-partial behavior, which trades occasional
	// false triggers on recognizer noise for minimal perceived latency.
	minTriggerRunes int
}

type CoordinatorOption func(*Coordinator)

func WithCaptureWindow(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.captureWindow = d
		}
	}
}

func WithFinalizeWait(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.finalizeWait = d
		}
	}
}

func WithDegradedConfidence(v float64) CoordinatorOption {
	return func(c *Coordinator) {
		if v > 0 && v <= 1 {
			c.degradedConfidence = v
		}
	}
}

func WithTriggerRunes(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.minTriggerRunes = n
		}
	}
}

func NewCoordinator(recognizer recognition.Provider, metrics *observability.Metrics, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		recognizer:         recognizer,
		metrics:            metrics,
		captureWindow:      defaultCaptureWindow,
		finalizeWait:       defaultFinalizeWait,
		degradedConfidence: defaultDegradedConfidence,
		minTriggerRunes:    defaultMinTriggerRunes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Play runs one interruptible playback for the call. The returned error is
// nil on both natural completion and barge-in; errors cover playback and
// recognizer-transport failures.
func (c *Coordinator) Play(ctx context.Context, call *session.Call, clip synthesis.Clip, transport Transport, recCfg recognition.Config) (Result, error) {
	job := session.NewPlaybackJob(clip)
	if err := call.BeginPlayback(job); err != nil {
		return Result{}, err
	}

	source := make(chan audio.Chunk, 256)
	call.SetMonitor(source)
	defer call.ClearMonitor()

	handle, err := transport.Play(ctx, call.ID, clip)
	if err != nil {
		job.MarkFailed()
		c.metrics.Playback(string(session.PlaybackFailed))
		return Result{}, fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	job.MarkPlaying()

	stream, err := c.recognizer.OpenStream(ctx, recCfg)
	if err != nil {
		// Monitoring is unavailable; let the clip play out unmonitored and
		// report the stream failure alongside the completed result.
		c.metrics.ProviderError("recognizer", "open_stream")
		select {
		case <-ctx.Done():
			handle.Stop()
			job.MarkInterrupted()
			return Result{}, ctx.Err()
		case <-handle.Done():
		}
		job.MarkCompleted()
		c.metrics.Playback(string(session.PlaybackCompleted))
		return Result{}, fmt.Errorf("%w: %v", ErrRecognitionStream, err)
	}

	mctx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()

	var captured []audio.Chunk
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		for {
			select {
			case <-mctx.Done():
				return
			case chunk := <-source:
				captured = append(captured, chunk)
				_ = stream.Feed(mctx, chunk.Data)
			}
		}
	}()

	// finish tears down the feeder before captured is read; the channel
	// close establishes the necessary happens-before edge.
	finish := func() []audio.Chunk {
		cancelFeed()
		<-feedDone
		stream.Stop()
		return captured
	}

	var (
		interrupted   bool
		last          recognition.Event
		finalizeTimer *time.Timer
		deadlineTimer *time.Timer
		finalize      <-chan time.Time
		deadline      <-chan time.Time
	)
	defer func() {
		if finalizeTimer != nil {
			finalizeTimer.Stop()
		}
		if deadlineTimer != nil {
			deadlineTimer.Stop()
		}
	}()

	handleDone := handle.Done()
	events := stream.Events()

	for {
		select {
		case <-ctx.Done():
			if !interrupted {
				handle.Stop()
				job.MarkInterrupted()
			}
			return Result{Interrupted: interrupted, Captured: finish()}, ctx.Err()

		case <-handleDone:
			if err := handle.Err(); err != nil {
				job.MarkFailed()
				c.metrics.Playback(string(session.PlaybackFailed))
				return Result{Captured: finish()}, fmt.Errorf("%w: %v", ErrPlayback, err)
			}
			job.MarkCompleted()
			c.metrics.Playback(string(session.PlaybackCompleted))
			return Result{Interrupted: false, Captured: finish()}, nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				if !interrupted {
					// Recognizer went away mid-playback; keep playing
					// unmonitored and surface the failure on completion.
					if streamErr := stream.Err(); streamErr != nil {
						c.metrics.ProviderError("recognizer", "stream_closed")
					}
					continue
				}
				// The trigger event is always stored before this point.
				return Result{
					Interrupted: true,
					Transcript:  last.Text,
					Confidence:  c.resolvedConfidence(last),
					Captured:    finish(),
				}, nil
			}
			if len([]rune(strings.TrimSpace(ev.Text))) < c.minTriggerRunes {
				continue
			}
			if !interrupted {
				interrupted = true
				stopStart := time.Now()
				handle.Stop()
				handleDone = nil
				job.MarkInterrupted()
				c.metrics.Playback(string(session.PlaybackInterrupted))
				c.metrics.BargeIn(time.Since(stopStart))
				finalizeTimer = time.NewTimer(c.finalizeWait)
				deadlineTimer = time.NewTimer(c.captureWindow)
				finalize = finalizeTimer.C
				deadline = deadlineTimer.C
			}
			last = ev
			if ev.IsFinal {
				return Result{
					Interrupted: true,
					Transcript:  ev.Text,
					Confidence:  ev.Confidence,
					Captured:    finish(),
				}, nil
			}

		case <-finalize:
			c.metrics.Event("barge_in_finalize_timeout")
			return Result{
				Interrupted: true,
				Transcript:  last.Text,
				Confidence:  c.degradedConfidence,
				Captured:    finish(),
			}, nil

		case <-deadline:
			c.metrics.Event("barge_in_capture_timeout")
			return Result{
				Interrupted: true,
				Transcript:  last.Text,
				Confidence:  c.degradedConfidence,
				Captured:    finish(),
			}, nil
		}
	}
}

// resolvedConfidence applies the degraded-confidence policy when the last
// observed event was an interim, so downstream gating stays consistent.
func (c *Coordinator) resolvedConfidence(ev recognition.Event) float64 {
	if ev.IsFinal {
		return ev.Confidence
	}
	return c.degradedConfidence
}
