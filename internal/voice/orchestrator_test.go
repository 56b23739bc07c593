package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/denwa-ai/denwa/internal/audio"
	"github.com/denwa-ai/denwa/internal/llm"
	"github.com/denwa-ai/denwa/internal/recognition"
	"github.com/denwa-ai/denwa/internal/session"
	"github.com/denwa-ai/denwa/internal/synthesis"
)

type orchFixture struct {
	orch      *Orchestrator
	provider  *recognition.MockProvider
	synth     *synthesis.MockSynthesizer
	gen       *llm.MockGenerator
	transport *scriptedTransport
	calls     *session.Registry
}

func newOrchFixture(t *testing.T, cfg Config) *orchFixture {
	t.Helper()
	if cfg.GreetingFallbackWait == 0 {
		cfg.GreetingFallbackWait = time.Hour // keep the timer out of the way
	}
	if cfg.MinChunks == 0 {
		cfg.MinChunks = 2
	}
	if cfg.RecitationMinChunks == 0 {
		cfg.RecitationMinChunks = cfg.MinChunks
	}
	provider := recognition.NewMockProvider()
	synth := synthesis.NewMockSynthesizer()
	gen := llm.NewMockGenerator()
	tr := &scriptedTransport{}
	calls := session.NewRegistry(time.Minute)
	orch := NewOrchestrator(cfg, Deps{
		Calls:       calls,
		Recognizer:  provider,
		Synthesizer: synth,
		Generator:   gen,
		Transport:   tr,
		Coordinator: NewCoordinator(provider, nil),
	})
	return &orchFixture{orch: orch, provider: provider, synth: synth, gen: gen, transport: tr, calls: calls}
}

// primeListening gets a fresh call past the greeting phase so tests can
// exercise the normal turn cycle directly.
func primeListening(t *testing.T, call *session.Call) {
	t.Helper()
	if !call.ClaimGreeting() {
		t.Fatal("greeting already claimed")
	}
	if err := call.SetState(session.StateGreetingPlayback); err != nil {
		t.Fatalf("to greeting: %v", err)
	}
	if err := call.SetState(session.StateListening); err != nil {
		t.Fatalf("to listening: %v", err)
	}
	call.MarkFirstAckPlayed()
}

func speak(t *testing.T, f *orchFixture, callID, text string, confidence float64) {
	t.Helper()
	f.provider.QueueResult(recognition.Event{Text: text, Confidence: confidence, IsFinal: true})
	for i := 0; i < 2; i++ {
		if err := f.orch.IngestAudio(callID, audio.NewCallerChunk([]byte{0x7f, 0x7f}, audio.EncodingMULaw, 8000, time.Now())); err != nil {
			t.Fatalf("IngestAudio: %v", err)
		}
	}
}

func turnTexts(turns []session.Turn) []string {
	out := make([]string, len(turns))
	for i, tn := range turns {
		out[i] = tn.Text
	}
	return out
}

func TestGreetingFallbackPlaysAfterSilence(t *testing.T) {
	f := newOrchFixture(t, Config{GreetingFallbackWait: 10 * time.Millisecond})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	waitFor(t, "greeting played", func() bool { return call.State() == session.StateListening })
	turns := call.Turns()
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1 (greeting)", len(turns))
	}
	if turns[0].Role != session.RoleAI {
		t.Fatalf("turn role = %q, want ai", turns[0].Role)
	}
	if turns[0].Text == "" {
		t.Fatal("greeting turn has no text")
	}
}

func TestGreetingPlaysExactlyOnce(t *testing.T) {
	f := newOrchFixture(t, Config{GreetingFallbackWait: 10 * time.Millisecond})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	waitFor(t, "greeting played", func() bool { return call.State() == session.StateListening })

	// A later utterance must run a normal turn, not a second greeting.
	speak(t, f, "call-1", "予約をお願いします", 0.95)
	waitFor(t, "turn finished", func() bool { return len(call.Turns()) >= 3 })

	greetings := 0
	for _, tn := range call.Turns() {
		if tn.Role == session.RoleAI && tn.Text == f.orch.cfg.GreetingText {
			greetings++
		}
	}
	if greetings != 1 {
		t.Fatalf("greeting turns = %d, want 1; turns: %v", greetings, turnTexts(call.Turns()))
	}
}

func TestFirstUtteranceTriggersGreeting(t *testing.T) {
	f := newOrchFixture(t, Config{})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	speak(t, f, "call-1", "もしもし", 0.9)
	waitFor(t, "greeting played", func() bool { return call.State() == session.StateListening })

	turns := call.Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2 (caller + greeting): %v", len(turns), turnTexts(turns))
	}
	if turns[0].Role != session.RoleCaller || turns[0].Text != "もしもし" {
		t.Fatalf("first turn = %+v, want caller もしもし", turns[0])
	}
	if turns[1].Role != session.RoleAI {
		t.Fatalf("second turn role = %q, want ai", turns[1].Role)
	}
	if f.gen.Calls() != 0 {
		t.Fatalf("generator calls = %d, want 0 for the greeting turn", f.gen.Calls())
	}
}

func TestFullTurnCycle(t *testing.T) {
	f := newOrchFixture(t, Config{})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	speak(t, f, "call-1", "営業時間を教えてください", 0.9)
	waitFor(t, "turn finished", func() bool {
		return len(call.Turns()) == 2 && call.State() == session.StateListening
	})

	turns := call.Turns()
	if turns[0].Role != session.RoleCaller {
		t.Fatalf("first turn role = %q, want caller", turns[0].Role)
	}
	if turns[1].Role != session.RoleAI || turns[1].Text == "" {
		t.Fatalf("second turn = %+v, want non-empty ai reply", turns[1])
	}
	if f.gen.Calls() != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.Calls())
	}
	if got := f.gen.LastRequest().Input; got != "営業時間を教えてください" {
		t.Fatalf("generator input = %q", got)
	}
}

func TestLowConfidenceUtteranceDiscardedSilently(t *testing.T) {
	f := newOrchFixture(t, Config{})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	speak(t, f, "call-1", "ざつおん", 0.3)

	time.Sleep(50 * time.Millisecond)
	if got := len(call.Turns()); got != 0 {
		t.Fatalf("turns = %d, want 0 after silent discard", got)
	}
	if f.gen.Calls() != 0 {
		t.Fatalf("generator calls = %d, want 0", f.gen.Calls())
	}
	if call.State() != session.StateListening {
		t.Fatalf("state = %q, want listening", call.State())
	}
}

func TestEmptyTranscriptIgnored(t *testing.T) {
	f := newOrchFixture(t, Config{})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	speak(t, f, "call-1", "   ", 0.9)

	time.Sleep(50 * time.Millisecond)
	if got := len(call.Turns()); got != 0 {
		t.Fatalf("turns = %d, want 0", got)
	}
}

func TestGeneratorFailurePlaysApology(t *testing.T) {
	f := newOrchFixture(t, Config{})
	f.gen.FailWith(errors.New("upstream down"))
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	speak(t, f, "call-1", "注文したいのですが", 0.9)
	waitFor(t, "turn finished", func() bool { return len(call.Turns()) == 2 })

	turns := call.Turns()
	if got, want := turns[1].Text, f.orch.cfg.ApologyText; got != want {
		t.Fatalf("AI turn = %q, want apology %q", got, want)
	}
	if call.State() != session.StateListening {
		t.Fatalf("state = %q, want listening", call.State())
	}
}

func TestRecitationCueWidensThresholds(t *testing.T) {
	f := newOrchFixture(t, Config{})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	speak(t, f, "call-1", "住所を復唱します", 0.9)
	waitFor(t, "recitation mode", call.Recitation)
	waitFor(t, "turn finished", func() bool {
		return len(call.Turns()) == 2 && call.State() == session.StateListening
	})

	// The next normal utterance exits recitation mode.
	speak(t, f, "call-1", "以上です", 0.9)
	waitFor(t, "recitation cleared", func() bool { return !call.Recitation() })
}

func TestInterruptionDepthCap(t *testing.T) {
	f := newOrchFixture(t, Config{MaxInterruptionDepth: 1})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	res := Result{Interrupted: true, Transcript: "まだ聞きたいことが", Confidence: 0.9}
	f.orch.continueWithInterruption(call.Context(), call, res, 1)

	turns := call.Turns()
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1 (logged caller turn only)", len(turns))
	}
	if turns[0].Role != session.RoleCaller {
		t.Fatalf("turn role = %q, want caller", turns[0].Role)
	}
	if f.gen.Calls() != 0 {
		t.Fatalf("generator calls = %d, want 0 past the cap", f.gen.Calls())
	}
}

func TestInterruptionBelowCapRunsTurn(t *testing.T) {
	f := newOrchFixture(t, Config{MaxInterruptionDepth: 1})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	res := Result{Interrupted: true, Transcript: "時間を変更したい", Confidence: 0.9}
	f.orch.continueWithInterruption(call.Context(), call, res, 0)

	waitFor(t, "re-entered turn", func() bool { return len(call.Turns()) == 2 })
	if f.gen.Calls() != 1 {
		t.Fatalf("generator calls = %d, want 1", f.gen.Calls())
	}
}

func TestInterruptionConfidenceGate(t *testing.T) {
	f := newOrchFixture(t, Config{})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	res := Result{Interrupted: true, Transcript: "ノイズ", Confidence: 0.2}
	f.orch.continueWithInterruption(call.Context(), call, res, 0)

	if got := len(call.Turns()); got != 0 {
		t.Fatalf("turns = %d, want 0 after gated interruption", got)
	}
}

func TestExportRecording(t *testing.T) {
	f := newOrchFixture(t, Config{RecordCalls: true})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primeListening(t, call)

	speak(t, f, "call-1", "録音テスト", 0.9)
	waitFor(t, "turn finished", func() bool { return len(call.Turns()) == 2 })

	wav, err := f.orch.ExportRecording("call-1")
	if err != nil {
		t.Fatalf("ExportRecording: %v", err)
	}
	if string(wav[:4]) != "RIFF" {
		t.Fatalf("recording is not a WAV file: % x", wav[:4])
	}

	// Recording stays exportable after the call ends, until dropped.
	if err := f.orch.EndSession("call-1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := f.orch.ExportRecording("call-1"); err != nil {
		t.Fatalf("post-call export: %v", err)
	}
	f.orch.DropRecording("call-1")
	if _, err := f.orch.ExportRecording("call-1"); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("err = %v, want ErrNoRecording", err)
	}
}

func TestExportRecordingDisabled(t *testing.T) {
	f := newOrchFixture(t, Config{})
	if _, err := f.orch.CreateSession("call-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.orch.ExportRecording("call-1"); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("err = %v, want ErrNoRecording", err)
	}
}

func TestEndSessionRemovesCall(t *testing.T) {
	f := newOrchFixture(t, Config{})
	call, err := f.orch.CreateSession("call-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := f.orch.EndSession("call-1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := f.orch.GetState("call-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	select {
	case <-call.Done():
	case <-time.After(time.Second):
		t.Fatal("call context not cancelled on EndSession")
	}
}

func TestWarmUpCachesCannedClips(t *testing.T) {
	f := newOrchFixture(t, Config{})
	if err := f.orch.WarmUp(context.Background()); err != nil {
		t.Fatalf("WarmUp: %v", err)
	}
	before := len(f.synth.Calls())

	if _, err := f.orch.clipFor(context.Background(), f.orch.cfg.GreetingText); err != nil {
		t.Fatalf("clipFor: %v", err)
	}
	if after := len(f.synth.Calls()); after != before {
		t.Fatalf("synth calls grew from %d to %d; canned clip not cached", before, after)
	}
}
