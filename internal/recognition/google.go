package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

const defaultSpeechModel = "phone_call"

// GoogleProvider wraps the Cloud Speech-to-Text v1 API.
type GoogleProvider struct {
	client *speech.Client
	model  string
}

func NewGoogleProvider(ctx context.Context, credentialsJSON []byte, model string) (*GoogleProvider, error) {
	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if model == "" {
		model = defaultSpeechModel
	}
	return &GoogleProvider{client: client, model: model}, nil
}

func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

func (p *GoogleProvider) recognitionConfig(cfg Config) *speechpb.RecognitionConfig {
	enc := speechpb.RecognitionConfig_MULAW
	if cfg.Encoding == "linear16" {
		enc = speechpb.RecognitionConfig_LINEAR16
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:                   enc,
		SampleRateHertz:            int32(cfg.SampleRateHertz),
		LanguageCode:               cfg.LanguageCode,
		Model:                      p.model,
		UseEnhanced:                true,
		EnableAutomaticPunctuation: true,
	}
	if len(cfg.PhraseHints) > 0 {
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: cfg.PhraseHints}}
	}
	return rc
}

func (p *GoogleProvider) OpenStream(ctx context.Context, cfg Config) (Stream, error) {
	rpc, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
	first := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          p.recognitionConfig(cfg),
				InterimResults:  true,
				SingleUtterance: !cfg.Continuous,
			},
		},
	}
	if err := rpc.Send(first); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}

	s := &googleStream{
		rpc:    rpc,
		input:  make(chan []byte, 256),
		events: make(chan Event, 64),
	}
	go s.sendLoop()
	go s.recvLoop()
	return s, nil
}

func (p *GoogleProvider) Recognize(ctx context.Context, cfg Config, audio []byte) (Event, error) {
	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: p.recognitionConfig(cfg),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return Event{}, fmt.Errorf("recognize: %w", err)
	}
	now := time.Now().UTC()
	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 || alts[0].GetTranscript() == "" {
			continue
		}
		return Event{
			Text:       alts[0].GetTranscript(),
			Confidence: float64(alts[0].GetConfidence()),
			IsFinal:    true,
			Timestamp:  now,
		}, nil
	}
	return Event{Timestamp: now, IsFinal: true}, nil
}

type googleStream struct {
	rpc    speechpb.Speech_StreamingRecognizeClient
	input  chan []byte
	events chan Event

	mu      sync.Mutex
	stopped bool
	err     error
}

func (s *googleStream) Feed(ctx context.Context, audio []byte) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || len(audio) == 0 {
		return nil
	}
	buf := make([]byte, len(audio))
	copy(buf, audio)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.input <- buf:
		return nil
	default:
		// Queue full. Dropping is preferable to stalling the media loop.
		return nil
	}
}

func (s *googleStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.input)
}

func (s *googleStream) Events() <-chan Event {
	return s.events
}

func (s *googleStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail records the first transport error. It must not set stopped: Stop is
// still responsible for closing the input channel and ending sendLoop.
func (s *googleStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
	s.mu.Unlock()
}

func (s *googleStream) sendLoop() {
	for buf := range s.input {
		req := &speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: buf},
		}
		if err := s.rpc.Send(req); err != nil {
			s.fail(err)
			return
		}
	}
	_ = s.rpc.CloseSend()
}

func (s *googleStream) recvLoop() {
	defer close(s.events)
	for {
		resp, err := s.rpc.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.fail(err)
			return
		}
		now := time.Now().UTC()
		for _, res := range resp.GetResults() {
			alts := res.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			ev := Event{
				Text:       alts[0].GetTranscript(),
				Confidence: float64(alts[0].GetConfidence()),
				IsFinal:    res.GetIsFinal(),
				Timestamp:  now,
			}
			select {
			case s.events <- ev:
			default:
				// Never block the RPC receiver on a slow consumer.
			}
		}
	}
}
