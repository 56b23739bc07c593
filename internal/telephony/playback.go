package telephony

import (
	"context"
	"fmt"
	"sync"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/denwa-ai/denwa/internal/observability"
	"github.com/denwa-ai/denwa/internal/synthesis"
	"github.com/denwa-ai/denwa/internal/voice"
)

// Playback speaks into a live call through the provider's REST side-channel:
// the clip goes into the audio cache, a call update points the call at its
// URL, and the stream reattaches afterwards. The provider sends no
// playback-complete event, so completion is timed from the clip duration.
type Playback struct {
	client    *twilio.RestClient
	cache     *AudioCache
	baseURL   string
	streamURL string
	metrics   *observability.Metrics
	logf      func(format string, v ...any)

	// one REST update in flight per call; concurrent updates on the same
	// call make the provider race its own TwiML.
	mu    sync.Mutex
	calls map[string]*sync.Mutex
}

func NewPlayback(client *twilio.RestClient, cache *AudioCache, baseURL, streamURL string, metrics *observability.Metrics) *Playback {
	return &Playback{
		client:    client,
		cache:     cache,
		baseURL:   baseURL,
		streamURL: streamURL,
		metrics:   metrics,
		logf:      func(string, ...any) {},
		calls:     make(map[string]*sync.Mutex),
	}
}

func (p *Playback) SetLogger(logf func(format string, v ...any)) {
	if logf != nil {
		p.logf = logf
	}
}

func (p *Playback) callLock(callID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.calls[callID]
	if !ok {
		l = &sync.Mutex{}
		p.calls[callID] = l
	}
	return l
}

// Forget drops the per-call lock after call teardown.
func (p *Playback) Forget(callID string) {
	p.mu.Lock()
	delete(p.calls, callID)
	p.mu.Unlock()
}

// Play implements voice.Transport.
func (p *Playback) Play(_ context.Context, callID string, clip synthesis.Clip) (voice.Handle, error) {
	clipID := p.cache.Put(clip)

	doc, err := PlayTwiML(p.audioURL(clipID), p.streamURL)
	if err != nil {
		p.cache.Delete(clipID)
		return nil, fmt.Errorf("build play twiml: %w", err)
	}

	lock := p.callLock(callID)
	lock.Lock()
	params := &openapi.UpdateCallParams{}
	params.SetTwiml(doc)
	_, err = p.client.Api.UpdateCall(callID, params)
	lock.Unlock()
	if err != nil {
		p.cache.Delete(clipID)
		p.metrics.ProviderError("telephony", "update_call")
		return nil, fmt.Errorf("update call %s: %w", callID, err)
	}

	return voice.NewTimedHandle(clip.Duration, func() {
		p.interrupt(callID)
	}), nil
}

// interrupt redirects the call back to the bare media stream, cutting the
// clip mid-play. Failures only log: the clip simply plays out.
func (p *Playback) interrupt(callID string) {
	doc, err := ResumeTwiML(p.streamURL)
	if err != nil {
		p.logf("call %s: build resume twiml: %v", callID, err)
		return
	}

	lock := p.callLock(callID)
	lock.Lock()
	defer lock.Unlock()
	params := &openapi.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := p.client.Api.UpdateCall(callID, params); err != nil {
		p.metrics.ProviderError("telephony", "interrupt")
		p.logf("call %s: interrupt playback: %v", callID, err)
	}
}

func (p *Playback) audioURL(clipID string) string {
	return p.baseURL + "/telephony/audio/" + clipID
}
