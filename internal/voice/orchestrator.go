package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/denwa-ai/denwa/internal/audio"
	"github.com/denwa-ai/denwa/internal/calllog"
	"github.com/denwa-ai/denwa/internal/llm"
	"github.com/denwa-ai/denwa/internal/observability"
	"github.com/denwa-ai/denwa/internal/recognition"
	"github.com/denwa-ai/denwa/internal/recorder"
	"github.com/denwa-ai/denwa/internal/session"
	"github.com/denwa-ai/denwa/internal/synthesis"
)

var ErrNoRecording = errors.New("no recording for call")

// Config tunes one orchestrator instance. Zero values take the defaults
// below, calibrated for Japanese telephony audio.
type Config struct {
	Language        string
	VoiceName       string
	SpeakingRate    float64
	AudioEncoding   string
	SampleRateHertz int
	PhraseHints     []string

	GreetingText string
	ApologyText  string

	// ConfidenceGate discards recognized utterances at or below this
	// confidence without any audible reaction.
	ConfidenceGate float64
	// GreetingFallbackWait plays the greeting unprompted when the caller
	// stays silent after pickup.
	GreetingFallbackWait time.Duration

	LLMTimeout       time.Duration
	TTSTimeout       time.Duration
	RecognizeTimeout time.Duration

	// MaxInterruptionDepth caps how many times an interrupting utterance may
	// itself spawn a re-entered turn before the call settles back to
	// listening.
	MaxInterruptionDepth int
	HistoryLimit         int

	RecordCalls bool

	MinChunks           int
	MaxChunks           int
	RecitationMinChunks int
	RecitationMaxChunks int
}

func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "ja-JP"
	}
	if c.AudioEncoding == "" {
		c.AudioEncoding = "mulaw"
	}
	if c.SampleRateHertz <= 0 {
		c.SampleRateHertz = 8000
	}
	if c.GreetingText == "" {
		c.GreetingText = "お電話ありがとうございます。ご用件をお伺いいたします。"
	}
	if c.ApologyText == "" {
		c.ApologyText = "申し訳ございません。少々お時間をいただいております。"
	}
	if c.ConfidenceGate <= 0 {
		c.ConfidenceGate = 0.5
	}
	if c.GreetingFallbackWait <= 0 {
		c.GreetingFallbackWait = 2500 * time.Millisecond
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 15 * time.Second
	}
	if c.TTSTimeout <= 0 {
		c.TTSTimeout = 10 * time.Second
	}
	if c.RecognizeTimeout <= 0 {
		c.RecognizeTimeout = 10 * time.Second
	}
	if c.MaxInterruptionDepth <= 0 {
		c.MaxInterruptionDepth = 1
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.MinChunks <= 0 {
		c.MinChunks = audio.DefaultMinChunks
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = audio.DefaultMaxChunks
	}
	if c.RecitationMinChunks <= 0 {
		c.RecitationMinChunks = audio.DefaultRecitationMinChunks
	}
	if c.RecitationMaxChunks <= 0 {
		c.RecitationMaxChunks = audio.DefaultRecitationMaxChunks
	}
}

// Deps are the orchestrator's collaborators; all required except Metrics and
// CallLog, which may be nil (nil Metrics records nothing, nil CallLog becomes
// the no-op store).
type Deps struct {
	Calls       *session.Registry
	Recognizer  recognition.Provider
	Synthesizer synthesis.Synthesizer
	Generator   llm.Generator
	Transport   Transport
	Coordinator *Coordinator
	Metrics     *observability.Metrics
	CallLog     calllog.Store
}

// Orchestrator drives the per-call turn cycle: greet, listen, acknowledge,
// think, respond, and yield instantly when the caller cuts in.
type Orchestrator struct {
	cfg  Config
	deps Deps
	logf func(format string, v ...any)

	mu        sync.Mutex
	clips     map[string]synthesis.Clip
	recorders map[string]*recorder.Timeline
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	if deps.CallLog == nil {
		deps.CallLog = calllog.NoopStore{}
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		logf:      func(string, ...any) {},
		clips:     make(map[string]synthesis.Clip),
		recorders: make(map[string]*recorder.Timeline),
	}
}

// SetLogger routes orchestrator diagnostics; the default discards them.
func (o *Orchestrator) SetLogger(logf func(format string, v ...any)) {
	if logf != nil {
		o.logf = logf
	}
}

// CreateSession registers a new call and arms the fallback-greeting timer. An
// empty id gets a generated one.
func (o *Orchestrator) CreateSession(id string) (*session.Call, error) {
	if id == "" {
		id = uuid.NewString()
	}
	buffer := audio.NewIngestBuffer(
		audio.WithThresholds(o.cfg.MinChunks, o.cfg.MaxChunks),
		audio.WithRecitationThresholds(o.cfg.RecitationMinChunks, o.cfg.RecitationMaxChunks),
	)
	call, err := o.deps.Calls.Create(id, o.cfg.Language, buffer)
	if err != nil {
		return nil, err
	}
	if err := call.SetState(session.StateAwaitingFirstUtterance); err != nil {
		return nil, err
	}

	if o.cfg.RecordCalls {
		o.mu.Lock()
		o.recorders[id] = recorder.NewTimeline(o.cfg.SampleRateHertz)
		o.mu.Unlock()
	}

	o.deps.Metrics.SetActiveCalls(o.deps.Calls.ActiveCount())
	o.deps.Metrics.Event("call_created")
	go o.greetingFallback(call)
	return call, nil
}

// IngestAudio feeds one inbound media chunk. A completed utterance kicks off
// turn processing without blocking the media path.
func (o *Orchestrator) IngestAudio(callID string, chunk audio.Chunk) error {
	call, err := o.deps.Calls.Get(callID)
	if err != nil {
		return err
	}
	flushed, ready := call.IngestAudio(chunk)
	if ready {
		go o.processUtterance(call, flushed)
	}
	return nil
}

// GetState returns the call's read-only snapshot.
func (o *Orchestrator) GetState(callID string) (session.Snapshot, error) {
	call, err := o.deps.Calls.Get(callID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return call.Snapshot(), nil
}

// Snapshots lists all known calls for the ops API.
func (o *Orchestrator) Snapshots() []session.Snapshot {
	return o.deps.Calls.Snapshots()
}

// EndSession terminates the call. The recording timeline survives teardown so
// it stays exportable until dropped.
func (o *Orchestrator) EndSession(callID string) error {
	if _, err := o.deps.Calls.Remove(callID); err != nil {
		return err
	}
	o.deps.Metrics.SetActiveCalls(o.deps.Calls.ActiveCount())
	o.deps.Metrics.Event("call_ended")
	return nil
}

// ExportRecording renders the call recording as a WAV file.
func (o *Orchestrator) ExportRecording(callID string) ([]byte, error) {
	o.mu.Lock()
	tl, ok := o.recorders[callID]
	o.mu.Unlock()
	if !ok {
		return nil, ErrNoRecording
	}
	return tl.ExportWAV()
}

// DropRecording releases a retained post-call recording.
func (o *Orchestrator) DropRecording(callID string) {
	o.mu.Lock()
	delete(o.recorders, callID)
	o.mu.Unlock()
}

// WarmUp synthesizes every canned clip up front so the first call never waits
// on TTS for a fixed phrase.
func (o *Orchestrator) WarmUp(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, text := range o.cannedTexts() {
		g.Go(func() error {
			_, err := o.clipFor(gctx, text)
			return err
		})
	}
	return g.Wait()
}

func (o *Orchestrator) cannedTexts() []string {
	texts := []string{o.cfg.GreetingText, o.cfg.ApologyText, firstAckText, defaultAckText}
	for _, rule := range ackRules {
		texts = append(texts, rule.reply)
	}
	return texts
}

// greetingFallback plays the greeting unprompted when the caller says nothing
// after pickup. The claim flag guarantees it never races a first-utterance
// greeting.
func (o *Orchestrator) greetingFallback(call *session.Call) {
	timer := time.NewTimer(o.cfg.GreetingFallbackWait)
	defer timer.Stop()

	select {
	case <-call.Done():
		return
	case <-timer.C:
	}
	if !call.ClaimGreeting() {
		return
	}
	o.deps.Metrics.Event("greeting_fallback")
	o.playGreeting(call.Context(), call)
}

// processUtterance recognizes one flushed utterance and, when it survives the
// confidence gate, runs a full turn. A call processes one turn at a time;
// utterances flushed meanwhile are dropped.
func (o *Orchestrator) processUtterance(call *session.Call, chunks []audio.Chunk) {
	if !call.TryBeginTurn() {
		o.deps.Metrics.Event("turn_dropped_busy")
		return
	}
	defer call.EndTurn()

	ctx := call.Context()
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RecognizeTimeout)
	defer cancel()

	recStart := time.Now()
	ev, err := o.deps.Recognizer.Recognize(rctx, o.recognitionConfig(false), audio.Concat(chunks))
	o.deps.Metrics.ObserveStage(observability.StageRecognize, time.Since(recStart))
	if err != nil {
		o.deps.Metrics.ProviderError("recognizer", "recognize")
		o.logf("call %s: recognize failed: %v", call.ID, err)
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	o.recordCaller(call.ID, chunks)
	if ev.Confidence <= o.cfg.ConfidenceGate {
		o.deps.Metrics.Discarded()
		return
	}

	o.runTurn(ctx, call, text, ev.Confidence, chunks, 0)
}

// runTurn executes one turn: quick acknowledgment, LLM response, response
// playback. depth counts barge-in re-entries.
func (o *Orchestrator) runTurn(ctx context.Context, call *session.Call, text string, confidence float64, captured []audio.Chunk, depth int) {
	turnStart := time.Now()

	if call.ClaimGreeting() {
		call.AppendTurn(session.Turn{
			Role:      session.RoleCaller,
			Text:      text,
			Audio:     captured,
			StartedAt: turnStart,
			EndedAt:   time.Now().UTC(),
		})
		o.saveTurn(call.ID, session.RoleCaller, text, false, turnStart)
		o.playGreeting(ctx, call)
		return
	}

	call.AppendTurn(session.Turn{
		Role:      session.RoleCaller,
		Text:      text,
		Audio:     captured,
		StartedAt: turnStart,
		EndedAt:   time.Now().UTC(),
	})
	o.saveTurn(call.ID, session.RoleCaller, text, depth > 0, turnStart)

	if hasRecitationCue(text) {
		call.SetRecitation(true)
		o.deps.Metrics.Event("recitation_mode")
	} else if call.Recitation() {
		call.SetRecitation(false)
	}

	ackText := acknowledgmentFor(text, call.FirstAckPending())
	if err := call.SetState(session.StateQuickAckPlayback); err != nil {
		o.logf("call %s: quick ack skipped: %v", call.ID, err)
		return
	}

	ackStart := time.Now()
	ackClip, err := o.clipFor(ctx, ackText)
	if err != nil {
		o.deps.Metrics.ProviderError("tts", "synthesize")
		o.logf("call %s: ack synthesis failed: %v", call.ID, err)
		o.toListening(call)
		return
	}
	ackRes, err := o.playClip(ctx, call, ackClip)
	call.MarkFirstAckPlayed()
	o.deps.Metrics.ObserveStage(observability.StageQuickAck, time.Since(ackStart))
	if err != nil {
		o.logf("call %s: ack playback: %v", call.ID, err)
		o.toListening(call)
		return
	}
	if ackRes.Interrupted {
		o.toListening(call)
		o.continueWithInterruption(ctx, call, ackRes, depth)
		return
	}

	if err := call.SetState(session.StateProcessingResponse); err != nil {
		return
	}

	genStart := time.Now()
	gctx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	reply, err := o.deps.Generator.Generate(gctx, llm.Request{Input: text, History: o.history(call)})
	cancel()
	o.deps.Metrics.ObserveStage(observability.StageGenerate, time.Since(genStart))
	if err != nil {
		o.deps.Metrics.ProviderError("llm", "generate")
		o.logf("call %s: generate failed: %v", call.ID, err)
		reply = o.cfg.ApologyText
		o.deps.Metrics.Event("apology_played")
	}

	ttsStart := time.Now()
	clip, err := o.clipFor(ctx, reply)
	o.deps.Metrics.ObserveStage(observability.StageSynthesize, time.Since(ttsStart))
	if err != nil {
		o.deps.Metrics.ProviderError("tts", "synthesize")
		o.logf("call %s: response synthesis failed: %v", call.ID, err)
		if reply != o.cfg.ApologyText {
			// The apology is canned, so this lookup never hits the network.
			if clip, err = o.clipFor(ctx, o.cfg.ApologyText); err == nil {
				reply = o.cfg.ApologyText
				o.deps.Metrics.Event("apology_played")
			}
		}
		if err != nil {
			o.toListening(call)
			return
		}
	}

	if err := call.SetState(session.StateResponsePlayback); err != nil {
		return
	}
	playStart := time.Now()
	res, err := o.playClip(ctx, call, clip)
	o.deps.Metrics.ObserveStage(observability.StageResponsePlayback, time.Since(playStart))

	call.AppendTurn(session.Turn{
		Role:        session.RoleAI,
		Text:        reply,
		StartedAt:   playStart,
		EndedAt:     time.Now().UTC(),
		Interrupted: res.Interrupted,
	})
	o.saveTurn(call.ID, session.RoleAI, reply, res.Interrupted, playStart)
	o.toListening(call)
	o.deps.Metrics.ObserveStage(observability.StageTurnTotal, time.Since(turnStart))

	if err != nil {
		o.logf("call %s: response playback: %v", call.ID, err)
		return
	}
	if res.Interrupted {
		o.continueWithInterruption(ctx, call, res, depth)
	}
}

// continueWithInterruption turns a barge-in transcript into the next turn.
// Re-entry is capped: past the cap the utterance is logged but answered only
// after the caller speaks again normally.
func (o *Orchestrator) continueWithInterruption(ctx context.Context, call *session.Call, res Result, depth int) {
	text := strings.TrimSpace(res.Transcript)
	if text == "" {
		return
	}
	if res.Confidence <= o.cfg.ConfidenceGate {
		o.deps.Metrics.Discarded()
		return
	}
	if depth >= o.cfg.MaxInterruptionDepth {
		o.deps.Metrics.Event("interruption_depth_capped")
		now := time.Now().UTC()
		call.AppendTurn(session.Turn{
			Role:      session.RoleCaller,
			Text:      text,
			Audio:     res.Captured,
			StartedAt: now,
			EndedAt:   now,
		})
		o.saveTurn(call.ID, session.RoleCaller, text, true, now)
		return
	}
	o.runTurn(ctx, call, text, res.Confidence, res.Captured, depth+1)
}

func (o *Orchestrator) playGreeting(ctx context.Context, call *session.Call) {
	if err := call.SetState(session.StateGreetingPlayback); err != nil {
		o.logf("call %s: greeting skipped: %v", call.ID, err)
		return
	}
	clip, err := o.clipFor(ctx, o.cfg.GreetingText)
	if err != nil {
		o.deps.Metrics.ProviderError("tts", "synthesize")
		o.logf("call %s: greeting synthesis failed: %v", call.ID, err)
		o.toListening(call)
		return
	}

	start := time.Now()
	res, err := o.playClip(ctx, call, clip)
	call.AppendTurn(session.Turn{
		Role:        session.RoleAI,
		Text:        o.cfg.GreetingText,
		StartedAt:   start,
		EndedAt:     time.Now().UTC(),
		Interrupted: res.Interrupted,
	})
	o.saveTurn(call.ID, session.RoleAI, o.cfg.GreetingText, res.Interrupted, start)
	o.toListening(call)
	if err != nil {
		o.logf("call %s: greeting playback: %v", call.ID, err)
		return
	}
	if res.Interrupted {
		o.continueWithInterruption(ctx, call, res, 0)
	}
}

// playClip runs one interruptible playback and folds the observed audio into
// the call recording.
func (o *Orchestrator) playClip(ctx context.Context, call *session.Call, clip synthesis.Clip) (Result, error) {
	res, err := o.deps.Coordinator.Play(ctx, call, clip, o.deps.Transport, o.recognitionConfig(true))
	if job := call.ActivePlayback(); job != nil {
		o.recordAI(call.ID, clip, job.StartedAt(), job.Played(time.Now().UTC()))
	}
	o.recordCaller(call.ID, res.Captured)
	return res, err
}

func (o *Orchestrator) toListening(call *session.Call) {
	if err := call.SetState(session.StateListening); err != nil && !errors.Is(err, session.ErrTerminated) {
		o.logf("call %s: to listening: %v", call.ID, err)
	}
}

// clipFor synthesizes text, caching canned phrases after the first synthesis.
func (o *Orchestrator) clipFor(ctx context.Context, text string) (synthesis.Clip, error) {
	o.mu.Lock()
	clip, ok := o.clips[text]
	o.mu.Unlock()
	if ok {
		return clip, nil
	}

	sctx, cancel := context.WithTimeout(ctx, o.cfg.TTSTimeout)
	defer cancel()
	clip, err := o.deps.Synthesizer.Synthesize(sctx, text, synthesis.Params{
		LanguageCode: o.cfg.Language,
		Voice:        o.cfg.VoiceName,
		SpeakingRate: o.cfg.SpeakingRate,
	}, o.cfg.AudioEncoding, o.cfg.SampleRateHertz)
	if err != nil {
		return synthesis.Clip{}, err
	}

	for _, canned := range o.cannedTexts() {
		if text == canned {
			o.mu.Lock()
			o.clips[text] = clip
			o.mu.Unlock()
			break
		}
	}
	return clip, nil
}

func (o *Orchestrator) recognitionConfig(continuous bool) recognition.Config {
	return recognition.Config{
		Encoding:        o.cfg.AudioEncoding,
		SampleRateHertz: o.cfg.SampleRateHertz,
		LanguageCode:    o.cfg.Language,
		Continuous:      continuous,
		PhraseHints:     o.cfg.PhraseHints,
	}
}

func (o *Orchestrator) history(call *session.Call) []llm.Message {
	turns := call.Turns()
	if len(turns) > o.cfg.HistoryLimit {
		turns = turns[len(turns)-o.cfg.HistoryLimit:]
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Text: t.Text})
	}
	return msgs
}

// saveTurn persists one closed turn best-effort; failures are logged and
// counted but never surface to the call.
func (o *Orchestrator) saveTurn(callID string, role session.Role, text string, interrupted bool, startedAt time.Time) {
	rec := calllog.Record{
		CallID:      callID,
		Role:        string(role),
		Text:        text,
		Interrupted: interrupted,
		StartedAt:   startedAt,
		EndedAt:     time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.deps.CallLog.SaveTurn(ctx, rec); err != nil {
			o.deps.Metrics.ProviderError("calllog", "save_turn")
			o.logf("call %s: save turn: %v", callID, err)
		}
	}()
}

func (o *Orchestrator) recordCaller(callID string, chunks []audio.Chunk) {
	if len(chunks) == 0 {
		return
	}
	o.mu.Lock()
	tl := o.recorders[callID]
	o.mu.Unlock()
	if tl != nil {
		tl.AddCallerAudio(chunks)
	}
}

func (o *Orchestrator) recordAI(callID string, clip synthesis.Clip, startedAt time.Time, played time.Duration) {
	o.mu.Lock()
	tl := o.recorders[callID]
	o.mu.Unlock()
	if tl != nil {
		tl.AddAISegment(clip, startedAt, played)
	}
}
