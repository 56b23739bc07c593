package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies a media-stream websocket payload variant.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventStop      EventType = "stop"
)

var ErrUnsupportedEvent = errors.New("unsupported stream event")

type Envelope struct {
	Event EventType `json:"event"`
}

type Connected struct {
	Event    EventType `json:"event"`
	Protocol string    `json:"protocol"`
	Version  string    `json:"version"`
}

// MediaFormat describes the codec of a stream; telephony media arrives as
// 8 kHz mono mu-law.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartPayload struct {
	StreamSid   string      `json:"streamSid"`
	AccountSid  string      `json:"accountSid"`
	CallSid     string      `json:"callSid"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

type Start struct {
	Event     EventType    `json:"event"`
	StreamSid string       `json:"streamSid"`
	Start     StartPayload `json:"start"`
}

type MediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 mu-law
}

type Media struct {
	Event     EventType    `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     MediaPayload `json:"media"`
}

// Audio decodes the base64 media payload.
func (m Media) Audio() ([]byte, error) {
	if m.Media.Payload == "" {
		return nil, errors.New("empty media payload")
	}
	return base64.StdEncoding.DecodeString(m.Media.Payload)
}

type MarkPayload struct {
	Name string `json:"name"`
}

type Mark struct {
	Event     EventType   `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type Stop struct {
	Event     EventType `json:"event"`
	StreamSid string    `json:"streamSid"`
	Stop      StopPayload `json:"stop"`
}

// ParseMessage decodes one inbound media-stream message into its typed form.
func ParseMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Start.CallSid == "" {
			return nil, errors.New("start event without callSid")
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, errors.New("media event without payload")
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, env.Event)
	}
}

// OutboundMedia builds the message that pushes audio back over the stream.
func OutboundMedia(streamSid string, audio []byte) ([]byte, error) {
	if streamSid == "" {
		return nil, errors.New("empty streamSid")
	}
	msg := Media{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     MediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
	return json.Marshal(msg)
}

// OutboundClear builds the message that flushes buffered outbound audio,
// used to cut a clip short on barge-in.
func OutboundClear(streamSid string) ([]byte, error) {
	if streamSid == "" {
		return nil, errors.New("empty streamSid")
	}
	return json.Marshal(map[string]string{"event": "clear", "streamSid": streamSid})
}

// OutboundMark builds a named checkpoint echoed back after the audio queued
// before it has played out.
func OutboundMark(streamSid, name string) ([]byte, error) {
	if streamSid == "" {
		return nil, errors.New("empty streamSid")
	}
	msg := Mark{Event: EventMark, StreamSid: streamSid, Mark: MarkPayload{Name: name}}
	return json.Marshal(msg)
}
