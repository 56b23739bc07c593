package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/denwa-ai/denwa/internal/audio"
	"github.com/denwa-ai/denwa/internal/config"
	"github.com/denwa-ai/denwa/internal/observability"
	"github.com/denwa-ai/denwa/internal/session"
	"github.com/denwa-ai/denwa/internal/synthesis"
	"github.com/denwa-ai/denwa/internal/telephony"
	"github.com/denwa-ai/denwa/internal/voice"
)

// CallService is the call-control surface the HTTP layer drives; the turn
// orchestrator implements it.
type CallService interface {
	CreateSession(id string) (*session.Call, error)
	IngestAudio(callID string, chunk audio.Chunk) error
	GetState(callID string) (session.Snapshot, error)
	Snapshots() []session.Snapshot
	EndSession(callID string) error
	ExportRecording(callID string) ([]byte, error)
}

type Server struct {
	cfg      config.Config
	calls    CallService
	cache    *telephony.AudioCache
	metrics  *observability.Metrics
	logf     func(format string, v ...any)
	upgrader websocket.Upgrader
}

func New(cfg config.Config, calls CallService, cache *telephony.AudioCache, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		calls:   calls,
		cache:   cache,
		metrics: metrics,
		logf:    func(string, ...any) {},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Telephony providers connect without a browser Origin;
				// same-origin only applies when one is present.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) SetLogger(logf func(format string, v ...any)) {
	if logf != nil {
		s.logf = logf
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/telephony/answer", s.handleAnswer)
	r.Get("/telephony/media-stream", s.handleMediaStream)
	r.Get("/telephony/audio/{id}", s.handleClipAudio)
	r.Post("/telephony/status", s.handleCallStatus)

	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Get("/v1/calls/{id}/recording", s.handleRecording)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleAnswer returns the pickup TwiML that opens the media stream back to
// this service.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	doc, err := telephony.AnswerTwiML(s.streamURL())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_error", err.Error())
		return
	}
	s.metrics.Event("call_answered")
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(doc))
}

// handleCallStatus consumes provider status callbacks and tears the session
// down when the call leaves the network.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	callSid := strings.TrimSpace(r.FormValue("CallSid"))
	status := strings.ToLower(strings.TrimSpace(r.FormValue("CallStatus")))
	if callSid == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing CallSid")
		return
	}

	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		if err := s.calls.EndSession(callSid); err != nil && !errors.Is(err, session.ErrNotFound) {
			s.logf("call %s: end on status %q: %v", callSid, status, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClipAudio serves one cached synthesized clip for the provider's Play
// verb. Telephony clips are stored as mu-law and served as WAV.
func (s *Server) handleClipAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	clip, err := s.cache.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "clip_not_found", err.Error())
		return
	}
	serveClip(w, clip)
}

func serveClip(w http.ResponseWriter, clip synthesis.Clip) {
	if clip.Encoding == "mp3" {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(clip.Audio)
		return
	}
	pcm := audio.ToPCM16(audio.Chunk{
		Data:       clip.Audio,
		Encoding:   audio.Encoding(clip.Encoding),
		SampleRate: clip.SampleRate,
	})
	wav, err := audio.EncodeWAVPCM16LE(pcm, clip.SampleRate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(wav)
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"calls": s.calls.Snapshots()})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.calls.GetState(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wav, err := s.calls.ExportRecording(id)
	if err != nil {
		if errors.Is(err, voice.ErrNoRecording) {
			respondError(w, http.StatusNotFound, "recording_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "export_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(wav)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

// streamURL derives the websocket endpoint from the public base URL.
func (s *Server) streamURL() string {
	base := s.cfg.PublicBaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/telephony/media-stream"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
