package ws

import (
	"sync"
	"time"
)

// cleanupThreshold triggers an expiry sweep once this many ids are tracked.
const cleanupThreshold = 1024

// ReplayGuard rejects session ids seen within a TTL window. Handshakes are
// signed with a timestamp, so the TTL only needs to cover the allowed clock
// skew on either side. It is safe for concurrent use.
type ReplayGuard struct {
	seen map[string]time.Time // session id -> first seen
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewReplayGuard creates a ReplayGuard that remembers ids for ttl.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen returns true if id was already presented within the TTL window.
// Otherwise it records id and returns false.
func (g *ReplayGuard) Seen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if first, ok := g.seen[id]; ok && now.Sub(first) < g.ttl {
		return true
	}
	g.seen[id] = now
	if len(g.seen) > cleanupThreshold {
		g.cleanupLocked(now)
	}
	return false
}

// Cleanup removes entries older than the TTL.
func (g *ReplayGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleanupLocked(g.now())
}

func (g *ReplayGuard) cleanupLocked(now time.Time) {
	for id, ts := range g.seen {
		if now.Sub(ts) >= g.ttl {
			delete(g.seen, id)
		}
	}
}
