package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/denwa-ai/denwa/internal/audio"
)

var (
	ErrNotFound = errors.New("call not found")
	ErrExists   = errors.New("call already exists")
)

// Registry is the only state shared across calls: a concurrent id -> Call
// map with an inactivity janitor. Calls are handed out live; their own
// locking serializes mutation.
type Registry struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	inactivityTimeout time.Duration
	onExpire          func(*Call)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Registry{
		calls:             make(map[string]*Call),
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook registers a callback invoked after the janitor terminates
// an inactive call.
func (r *Registry) SetExpireHook(hook func(*Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Create(id, language string, buffer *audio.IngestBuffer) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[id]; ok {
		return nil, ErrExists
	}
	c := newCall(id, language, buffer)
	r.calls[id] = c
	return c, nil
}

func (r *Registry) Get(id string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Remove terminates the call and drops it from the registry.
func (r *Registry) Remove(id string) (*Call, error) {
	r.mu.Lock()
	c, ok := r.calls[id]
	if ok {
		delete(r.calls, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	c.Terminate()
	return c, nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, c := range r.calls {
		if c.State() != StateTerminated {
			count++
		}
	}
	return count
}

// Snapshots returns read-only views ordered by creation time.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	calls := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		calls = append(calls, c)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []*Call

	r.mu.Lock()
	for id, c := range r.calls {
		if now.Sub(c.LastActivity()) < r.inactivityTimeout {
			continue
		}
		delete(r.calls, id)
		expired = append(expired, c)
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, c := range expired {
		c.Terminate()
		if hook != nil {
			hook(c)
		}
	}
}
