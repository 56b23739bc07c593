package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/twilio/twilio-go"

	"github.com/denwa-ai/denwa/internal/calllog"
	"github.com/denwa-ai/denwa/internal/config"
	"github.com/denwa-ai/denwa/internal/httpapi"
	"github.com/denwa-ai/denwa/internal/llm"
	"github.com/denwa-ai/denwa/internal/observability"
	"github.com/denwa-ai/denwa/internal/recognition"
	"github.com/denwa-ai/denwa/internal/session"
	"github.com/denwa-ai/denwa/internal/synthesis"
	"github.com/denwa-ai/denwa/internal/telephony"
	"github.com/denwa-ai/denwa/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("call log store init failed: %v", err)
	}
	defer store.Close()

	var (
		recognizer  recognition.Provider
		synthesizer synthesis.Synthesizer
	)

	mode := strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	haveCreds := cfg.GoogleCredentialsJSON != ""
	switch {
	case mode == "mock", mode == "auto" && !haveCreds:
		recognizer = recognition.NewMockProvider()
		synthesizer = synthesis.NewMockSynthesizer()
		log.Printf("speech providers: mock")
	default:
		if !haveCreds {
			log.Fatalf("PROVIDER_MODE=%s requires GOOGLE_CREDENTIALS_JSON", mode)
		}
		gp, err := recognition.NewGoogleProvider(ctx, []byte(cfg.GoogleCredentialsJSON), cfg.RecognitionModel)
		if err != nil {
			log.Fatalf("recognizer init failed: %v", err)
		}
		defer gp.Close()
		gs, err := synthesis.NewGoogleSynthesizer(ctx, []byte(cfg.GoogleCredentialsJSON))
		if err != nil {
			log.Fatalf("synthesizer init failed: %v", err)
		}
		defer gs.Close()
		recognizer = gp
		synthesizer = gs
		log.Printf("speech providers: cloud (model=%s)", cfg.RecognitionModel)
	}

	var generator llm.Generator
	if cfg.LLMURL != "" {
		generator = llm.NewHTTPGenerator(cfg.LLMURL, cfg.LLMTimeout)
		log.Printf("llm: http (%s)", cfg.LLMURL)
	} else {
		generator = llm.NewMockGenerator()
		log.Printf("llm: mock (LLM_HTTP_URL not set)")
	}

	cache := telephony.NewAudioCache(cfg.AudioClipTTL)

	var (
		transport voice.Transport
		playback  *telephony.Playback
	)
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.PublicBaseURL != "" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		})
		streamURL := strings.Replace(cfg.PublicBaseURL, "https://", "wss://", 1)
		streamURL = strings.Replace(streamURL, "http://", "ws://", 1)
		playback = telephony.NewPlayback(client, cache, cfg.PublicBaseURL, streamURL+"/telephony/media-stream", metrics)
		playback.SetLogger(log.Printf)
		transport = playback
		log.Printf("playback transport: telephony rest side-channel")
	} else {
		transport = voice.LoopbackTransport{}
		log.Printf("playback transport: loopback (no telephony credentials)")
	}

	registry := session.NewRegistry(cfg.SessionInactivityTimeout)

	coordinator := voice.NewCoordinator(recognizer, metrics,
		voice.WithCaptureWindow(cfg.BargeInCaptureWindow),
		voice.WithFinalizeWait(cfg.BargeInFinalizeWait),
		voice.WithDegradedConfidence(cfg.BargeInDegradedConfidence),
		voice.WithTriggerRunes(cfg.BargeInTriggerRunes),
	)

	orch := voice.NewOrchestrator(voice.Config{
		Language:             cfg.Language,
		VoiceName:            cfg.VoiceName,
		SpeakingRate:         cfg.SpeakingRate,
		AudioEncoding:        cfg.AudioEncoding,
		SampleRateHertz:      cfg.SampleRateHertz,
		GreetingText:         cfg.GreetingText,
		ApologyText:          cfg.ApologyText,
		ConfidenceGate:       cfg.ConfidenceGate,
		GreetingFallbackWait: cfg.GreetingFallbackWait,
		LLMTimeout:           cfg.LLMTimeout,
		TTSTimeout:           cfg.TTSTimeout,
		RecognizeTimeout:     cfg.RecognizeTimeout,
		MaxInterruptionDepth: cfg.MaxInterruptionDepth,
		HistoryLimit:         cfg.HistoryLimit,
		RecordCalls:          cfg.RecordCalls,
		MinChunks:            cfg.IngestMinChunks,
		MaxChunks:            cfg.IngestMaxChunks,
		RecitationMinChunks:  cfg.IngestRecitationMinChunks,
		RecitationMaxChunks:  cfg.IngestRecitationMaxChunks,
	}, voice.Deps{
		Calls:       registry,
		Recognizer:  recognizer,
		Synthesizer: synthesizer,
		Generator:   generator,
		Transport:   transport,
		Coordinator: coordinator,
		Metrics:     metrics,
		CallLog:     store,
	})
	orch.SetLogger(log.Printf)

	registry.SetExpireHook(func(c *session.Call) {
		metrics.Event("call_expired")
		metrics.SetActiveCalls(registry.ActiveCount())
		if playback != nil {
			playback.Forget(c.ID)
		}
	})

	warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := orch.WarmUp(warmCtx); err != nil {
		log.Printf("clip warm-up incomplete: %v", err)
	}
	warmCancel()

	api := httpapi.New(cfg, orch, cache, metrics)
	api.SetLogger(log.Printf)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
