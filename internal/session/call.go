package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denwa-ai/denwa/internal/audio"
)

// State is the externally visible call phase. Recitation mode is a
// LISTENING sub-mode and only widens ingest thresholds.
type State string

const (
	StateInit                   State = "init"
	StateAwaitingFirstUtterance State = "awaiting_first_utterance"
	StateGreetingPlayback       State = "greeting_playback"
	StateListening              State = "listening"
	StateQuickAckPlayback       State = "quick_ack_playback"
	StateProcessingResponse     State = "processing_response"
	StateResponsePlayback       State = "response_playback"
	StateTerminated             State = "terminated"
)

type Role string

const (
	RoleAI     Role = "ai"
	RoleCaller Role = "caller"
)

var (
	ErrTerminated        = errors.New("call terminated")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrPlaybackActive    = errors.New("another playback is active")
)

// Turn is one closed conversational exchange entry; never mutated after
// being appended.
type Turn struct {
	Role        Role
	Text        string
	Audio       []audio.Chunk
	StartedAt   time.Time
	EndedAt     time.Time
	Interrupted bool
}

// Call is the authoritative per-call state. It is owned by the registry and
// mutated only through its methods; no call shares mutable state with
// another.
type Call struct {
	ID        string
	Language  string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// greetingClaimed resolves the race between the fallback-greeting timer
	// and the first genuine utterance: exactly one claimant wins.
	greetingClaimed atomic.Bool
	turnBusy        atomic.Bool

	mu              sync.Mutex
	state           State
	recitation      bool
	buffer          *audio.IngestBuffer
	monitor         chan<- audio.Chunk
	turns           []Turn
	playback        *PlaybackJob
	lastActivity    time.Time
	firstAckPending bool
}

func newCall(id, language string, buffer *audio.IngestBuffer) *Call {
	if buffer == nil {
		buffer = audio.NewIngestBuffer()
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	return &Call{
		ID:              id,
		Language:        language,
		CreatedAt:       now,
		ctx:             ctx,
		cancel:          cancel,
		state:           StateInit,
		buffer:          buffer,
		lastActivity:    now,
		firstAckPending: true,
	}
}

var transitions = map[State][]State{
	StateInit:                   {StateAwaitingFirstUtterance},
	StateAwaitingFirstUtterance: {StateGreetingPlayback},
	StateGreetingPlayback:       {StateListening},
	StateListening:              {StateQuickAckPlayback},
	StateQuickAckPlayback:       {StateProcessingResponse, StateListening},
	StateProcessingResponse:     {StateResponsePlayback, StateListening},
	StateResponsePlayback:       {StateListening},
}

// SetState applies one transition. TERMINATED is reachable from any state;
// everything else follows the turn cycle.
func (c *Call) SetState(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated {
		return ErrTerminated
	}
	if to == StateTerminated {
		c.state = to
		return nil
	}
	for _, allowed := range transitions[c.state] {
		if allowed == to {
			c.state = to
			c.lastActivity = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
}

func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Terminate moves the call to its terminal state and cancels every
// outstanding wait tied to the call context.
func (c *Call) Terminate() {
	c.mu.Lock()
	c.state = StateTerminated
	c.monitor = nil
	c.mu.Unlock()
	c.cancel()
}

// ClaimGreeting returns true for exactly one caller: either the fallback
// timer or the first-utterance path, whichever gets here first.
func (c *Call) ClaimGreeting() bool {
	return c.greetingClaimed.CompareAndSwap(false, true)
}

// TryBeginTurn guards against concurrent turn processing for one call.
func (c *Call) TryBeginTurn() bool {
	return c.turnBusy.CompareAndSwap(false, true)
}

func (c *Call) EndTurn() {
	c.turnBusy.Store(false)
}

// IngestAudio routes one inbound chunk. While barge-in monitoring is active
// the chunk goes to the monitor tap; during AI playback without monitoring
// it is dropped (the mute-while-speaking policy); otherwise it accumulates
// in the ingest buffer. ready reports a flushed utterance.
func (c *Call) IngestAudio(chunk audio.Chunk) (flushed []audio.Chunk, ready bool) {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return nil, false
	}
	c.lastActivity = time.Now().UTC()
	if c.monitor != nil {
		ch := c.monitor
		c.mu.Unlock()
		select {
		case ch <- chunk:
		default:
		}
		return nil, false
	}
	switch c.state {
	case StateGreetingPlayback, StateQuickAckPlayback, StateResponsePlayback:
		c.mu.Unlock()
		return nil, false
	}
	buffer := c.buffer
	c.mu.Unlock()

	if buffer.Ingest(chunk) {
		return buffer.Flush(), true
	}
	return nil, false
}

// SetMonitor opens the live tap that feeds the barge-in coordinator.
func (c *Call) SetMonitor(ch chan<- audio.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitor = ch
}

func (c *Call) ClearMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitor = nil
}

func (c *Call) Monitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor != nil
}

func (c *Call) SetRecitation(on bool) {
	c.mu.Lock()
	c.recitation = on
	buffer := c.buffer
	c.mu.Unlock()
	buffer.SetRecitation(on)
}

func (c *Call) Recitation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recitation
}

func (c *Call) AppendTurn(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	c.lastActivity = time.Now().UTC()
}

func (c *Call) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// BeginPlayback registers job as the call's active playback. At most one
// job may be playing per call.
func (c *Call) BeginPlayback(job *PlaybackJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated {
		return ErrTerminated
	}
	if c.playback != nil && c.playback.Status() == PlaybackPlaying {
		return ErrPlaybackActive
	}
	c.playback = job
	return nil
}

func (c *Call) ActivePlayback() *PlaybackJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playback
}

// FirstAckPending reports whether the long formal acknowledgment is still
// owed; it flips false after the first acknowledgment plays.
func (c *Call) FirstAckPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstAckPending
}

func (c *Call) MarkFirstAckPlayed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.firstAckPending = false
}

// Context is cancelled on call teardown; every per-call wait derives from it.
func (c *Call) Context() context.Context {
	return c.ctx
}

func (c *Call) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Call) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now().UTC()
}

func (c *Call) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Snapshot is a read-only view for the ops API.
type Snapshot struct {
	ID             string    `json:"call_id"`
	Language       string    `json:"language"`
	State          State     `json:"state"`
	RecitationMode bool      `json:"recitation_mode"`
	Turns          int       `json:"turns"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (c *Call) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:             c.ID,
		Language:       c.Language,
		State:          c.state,
		RecitationMode: c.recitation,
		Turns:          len(c.turns),
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.lastActivity,
	}
}
