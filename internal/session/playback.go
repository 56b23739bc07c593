package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/denwa-ai/denwa/internal/synthesis"
)

type PlaybackStatus string

const (
	PlaybackPending     PlaybackStatus = "pending"
	PlaybackPlaying     PlaybackStatus = "playing"
	PlaybackInterrupted PlaybackStatus = "interrupted"
	PlaybackCompleted   PlaybackStatus = "completed"
	PlaybackFailed      PlaybackStatus = "failed"
)

// PlaybackJob tracks one clip through its lifecycle. Status moves
// pending -> playing -> {interrupted|completed}, or to failed from pending
// or playing; invalid moves are ignored and reported by the return value.
type PlaybackJob struct {
	ID   string
	Clip synthesis.Clip

	mu        sync.Mutex
	status    PlaybackStatus
	startedAt time.Time
	stoppedAt time.Time
}

func NewPlaybackJob(clip synthesis.Clip) *PlaybackJob {
	return &PlaybackJob{
		ID:     uuid.NewString(),
		Clip:   clip,
		status: PlaybackPending,
	}
}

func (j *PlaybackJob) Status() PlaybackStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *PlaybackJob) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt
}

func (j *PlaybackJob) MarkPlaying() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != PlaybackPending {
		return false
	}
	j.status = PlaybackPlaying
	j.startedAt = time.Now().UTC()
	return true
}

func (j *PlaybackJob) MarkInterrupted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != PlaybackPlaying {
		return false
	}
	j.status = PlaybackInterrupted
	j.stoppedAt = time.Now().UTC()
	return true
}

func (j *PlaybackJob) MarkCompleted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != PlaybackPlaying {
		return false
	}
	j.status = PlaybackCompleted
	j.stoppedAt = time.Now().UTC()
	return true
}

func (j *PlaybackJob) MarkFailed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != PlaybackPending && j.status != PlaybackPlaying {
		return false
	}
	j.status = PlaybackFailed
	j.stoppedAt = time.Now().UTC()
	return true
}

// Played reports how long the job has been audible, bounded by the clip
// duration. Used by the recorder to truncate interrupted AI segments.
func (j *PlaybackJob) Played(now time.Time) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt.IsZero() {
		return 0
	}
	if !j.stoppedAt.IsZero() {
		now = j.stoppedAt
	}
	d := now.Sub(j.startedAt)
	if d < 0 {
		d = 0
	}
	if j.Clip.Duration > 0 && d > j.Clip.Duration {
		d = j.Clip.Duration
	}
	return d
}
