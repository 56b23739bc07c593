package synthesis

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"
)

// GoogleSynthesizer wraps the Cloud Text-to-Speech v1 API.
type GoogleSynthesizer struct {
	client *texttospeech.Client
}

func NewGoogleSynthesizer(ctx context.Context, credentialsJSON []byte) (*GoogleSynthesizer, error) {
	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}
	return &GoogleSynthesizer{client: client}, nil
}

func (s *GoogleSynthesizer) Close() error {
	return s.client.Close()
}

func (s *GoogleSynthesizer) Synthesize(ctx context.Context, text string, p Params, encoding string, sampleRate int) (Clip, error) {
	enc, err := audioEncoding(encoding)
	if err != nil {
		return Clip{}, err
	}
	rate := p.SpeakingRate
	if rate <= 0 {
		rate = 1.0
	}
	resp, err := s.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: p.LanguageCode,
			Name:         p.Voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   enc,
			SampleRateHertz: int32(sampleRate),
			SpeakingRate:    rate,
		},
	})
	if err != nil {
		return Clip{}, fmt.Errorf("synthesize speech: %w", err)
	}
	audio := resp.GetAudioContent()
	return Clip{
		Text:       text,
		Audio:      audio,
		Encoding:   encoding,
		SampleRate: sampleRate,
		Duration:   ClipDuration(text, encoding, len(audio), sampleRate),
	}, nil
}

func audioEncoding(encoding string) (texttospeechpb.AudioEncoding, error) {
	switch encoding {
	case "mulaw":
		return texttospeechpb.AudioEncoding_MULAW, nil
	case "linear16":
		return texttospeechpb.AudioEncoding_LINEAR16, nil
	case "mp3":
		return texttospeechpb.AudioEncoding_MP3, nil
	default:
		return texttospeechpb.AudioEncoding_AUDIO_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding %q", encoding)
	}
}
