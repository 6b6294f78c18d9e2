// Package memory implements domain cache interfaces in process, for the
// sandbox mode and for nodes run without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

type lockEntry struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager with a mutex-guarded map of
// expiring tokens.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]lockEntry),
		now:   time.Now,
	}
}

// Acquire obtains the lock for key, or returns domain.ErrLockHeld when an
// unexpired holder exists. The returned unlock is safe to call more than once
// and never releases a lock taken over after expiry.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if e, ok := lm.locks[key]; ok && now.Before(e.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	lm.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if e, ok := lm.locks[key]; ok && e.token == token {
				delete(lm.locks, key)
			}
		})
	}, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
