package voice

import (
	"context"

	"github.com/denwa-ai/denwa/internal/synthesis"
)

// LoopbackTransport plays clips nowhere, completing them on a timer. Used by
// the simulator and when no telephony provider is configured.
type LoopbackTransport struct{}

func (LoopbackTransport) Play(_ context.Context, _ string, clip synthesis.Clip) (Handle, error) {
	return NewTimedHandle(clip.Duration, nil), nil
}
