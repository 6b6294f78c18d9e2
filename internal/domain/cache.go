package domain

import (
	"context"
	"time"
)

// LockManager provides short-lived exclusive locks. Acquire returns
// ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// UniquenessProvider records which transaction consumed each state. Commit
// is all-or-nothing: it returns a *ConflictError and records nothing when any
// ref is already consumed by a different transaction. Committing the same
// transaction again succeeds.
type UniquenessProvider interface {
	Commit(ctx context.Context, txID TxID, refs []StateRef) error
}
