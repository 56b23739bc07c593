package voice

import (
	"context"
	"sync"
	"time"

	"github.com/denwa-ai/denwa/internal/synthesis"
)

// Handle tracks one in-flight playback on the transport. Done closes when
// the clip finishes naturally or after Stop; Err reports transport failures
// observed before completion.
type Handle interface {
	Done() <-chan struct{}
	Stop()
	Err() error
}

// Transport starts audio playback toward the caller. Implementations cover
// the telephony side-channel and the local simulator; the coordinator is
// written once against this interface.
type Transport interface {
	Play(ctx context.Context, callID string, clip synthesis.Clip) (Handle, error)
}

// timedHandle completes after a fixed duration. Transports without a
// playback-complete event (the telephony REST side-channel) estimate
// completion from the clip duration.
type timedHandle struct {
	done   chan struct{}
	timer  *time.Timer
	once   sync.Once
	onStop func()
}

// NewTimedHandle returns a handle that fires Done after d. onStop runs at
// most once, and only when Stop cancels the clip before the timer fires.
func NewTimedHandle(d time.Duration, onStop func()) Handle {
	h := &timedHandle{
		done:   make(chan struct{}),
		onStop: onStop,
	}
	if d <= 0 {
		d = time.Millisecond
	}
	h.timer = time.AfterFunc(d, h.close)
	return h
}

func (h *timedHandle) Done() <-chan struct{} {
	return h.done
}

func (h *timedHandle) Stop() {
	if h.timer.Stop() && h.onStop != nil {
		h.onStop()
	}
	h.close()
}

func (h *timedHandle) Err() error {
	return nil
}

func (h *timedHandle) close() {
	h.once.Do(func() {
		close(h.done)
	})
}
