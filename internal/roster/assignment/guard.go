package assignment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Guard marks passengers with a mutation in flight so a second assign or
// unassign for the same passenger is refused until the first resolves. It is
// advisory: it does not stop other coordinators from racing server-side.
//
// TryAcquire returns a token identifying the mark; Release only clears the
// mark when it still holds that token, so a holder whose mark expired cannot
// clear a newer one.
type Guard interface {
	TryAcquire(ctx context.Context, passengerID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, passengerID, token string) error
}

type hold struct {
	token   string
	expires time.Time
}

// MemoryGuard is the single-process Guard.
type MemoryGuard struct {
	mu      sync.Mutex
	now     func() time.Time
	holders map[string]hold
}

// NewMemoryGuard constructs an empty MemoryGuard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{now: time.Now, holders: make(map[string]hold)}
}

// TryAcquire marks passengerID busy unless an unexpired mark exists.
// A non-positive ttl never expires.
func (g *MemoryGuard) TryAcquire(_ context.Context, passengerID string, ttl time.Duration) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if h, exists := g.holders[passengerID]; exists && (h.expires.IsZero() || now.Before(h.expires)) {
		return "", false, nil
	}
	h := hold{token: uuid.NewString()}
	if ttl > 0 {
		h.expires = now.Add(ttl)
	}
	g.holders[passengerID] = h
	return h.token, true, nil
}

// Release clears the mark for passengerID if it still carries token.
func (g *MemoryGuard) Release(_ context.Context, passengerID, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.holders[passengerID]; ok && h.token == token {
		delete(g.holders, passengerID)
	}
	return nil
}
