package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/denwa-ai/denwa/internal/audio"
	"github.com/denwa-ai/denwa/internal/protocol"
	"github.com/denwa-ai/denwa/internal/session"
)

// handleMediaStream runs one provider media-stream connection. The start
// event binds the socket to a call session; every media frame after that is
// routed through the session's mute/monitor policy.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.Event("stream_connected")
	defer s.metrics.Event("stream_disconnected")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var callID string
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseMessage(data)
		if err != nil {
			if !errors.Is(err, protocol.ErrUnsupportedEvent) {
				s.logf("media stream: parse: %v", err)
			}
			continue
		}

		switch msg := parsed.(type) {
		case protocol.Connected:
			s.metrics.StreamMessage("inbound", "connected")

		case protocol.Start:
			s.metrics.StreamMessage("inbound", "start")
			callID = msg.Start.CallSid
			if _, err := s.calls.CreateSession(callID); err != nil {
				if errors.Is(err, session.ErrExists) {
					// Stream reconnected mid-call; keep the session.
					continue
				}
				s.logf("call %s: create session: %v", callID, err)
				return
			}

		case protocol.Media:
			s.metrics.StreamMessage("inbound", "media")
			if callID == "" {
				continue
			}
			payload, err := msg.Audio()
			if err != nil {
				s.logf("call %s: media decode: %v", callID, err)
				continue
			}
			chunk := audio.NewCallerChunk(payload, audio.EncodingMULaw, s.cfg.SampleRateHertz, time.Now().UTC())
			if err := s.calls.IngestAudio(callID, chunk); err != nil && !errors.Is(err, session.ErrNotFound) {
				s.logf("call %s: ingest: %v", callID, err)
			}

		case protocol.Mark:
			s.metrics.StreamMessage("inbound", "mark")

		case protocol.Stop:
			s.metrics.StreamMessage("inbound", "stop")
			if callID == "" {
				return
			}
			if err := s.calls.EndSession(callID); err != nil && !errors.Is(err, session.ErrNotFound) {
				s.logf("call %s: end session: %v", callID, err)
			}
			return
		}
	}
}
