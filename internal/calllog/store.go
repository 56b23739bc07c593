package calllog

import (
	"context"
	"time"
)

// Record is one closed conversational turn persisted for later review.
type Record struct {
	ID          string
	CallID      string
	Role        string
	Text        string
	Interrupted bool
	StartedAt   time.Time
	EndedAt     time.Time
}

// Store persists closed turns. Persistence is best-effort: callers log and
// count failures but never fail the call on a store error.
type Store interface {
	SaveTurn(ctx context.Context, rec Record) error
	ListByCall(ctx context.Context, callID string, limit int) ([]Record, error)
	Close() error
}

// NewStore picks the backing store from the database URL; an empty URL
// selects the no-op store.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NoopStore{}, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// NoopStore discards every write; used when no database is configured.
type NoopStore struct{}

func (NoopStore) SaveTurn(context.Context, Record) error { return nil }

func (NoopStore) ListByCall(context.Context, string, int) ([]Record, error) {
	return nil, nil
}

func (NoopStore) Close() error { return nil }
