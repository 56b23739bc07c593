package telephony

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/denwa-ai/denwa/internal/synthesis"
)

var ErrClipNotFound = errors.New("clip not found")

// AudioCache holds synthesized clips under opaque ids so the telephony
// provider can fetch them over HTTP while a REST call-update points at them.
type AudioCache struct {
	mu    sync.Mutex
	clips map[string]synthesis.Clip
	ttl   time.Duration
}

func NewAudioCache(ttl time.Duration) *AudioCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AudioCache{
		clips: make(map[string]synthesis.Clip),
		ttl:   ttl,
	}
}

// Put stores the clip and returns its id. The entry self-expires after the
// TTL; playback normally deletes it sooner.
func (c *AudioCache) Put(clip synthesis.Clip) string {
	id := uuid.NewString()
	c.mu.Lock()
	c.clips[id] = clip
	c.mu.Unlock()

	time.AfterFunc(c.ttl, func() { c.Delete(id) })
	return id
}

func (c *AudioCache) Get(id string) (synthesis.Clip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clip, ok := c.clips[id]
	if !ok {
		return synthesis.Clip{}, ErrClipNotFound
	}
	return clip, nil
}

func (c *AudioCache) Delete(id string) {
	c.mu.Lock()
	delete(c.clips, id)
	c.mu.Unlock()
}

func (c *AudioCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}
