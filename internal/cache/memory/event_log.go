package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

const defaultEventLogSize = 1000

// EventLog implements domain.EventLog as a bounded ring of recent events.
type EventLog struct {
	mu     sync.Mutex
	events []domain.TxEvent
	next   int
	full   bool
}

// NewEventLog keeps the last size events; size <= 0 uses a default.
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = defaultEventLogSize
	}
	return &EventLog{events: make([]domain.TxEvent, size)}
}

// Log appends ev, evicting the oldest event when the ring is full.
func (l *EventLog) Log(_ context.Context, ev domain.TxEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = ev
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *EventLog) Recent(_ context.Context, limit int) ([]domain.TxEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.events)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.TxEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		j := (l.next - i + len(l.events)) % len(l.events)
		out = append(out, l.events[j])
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.EventLog = (*EventLog)(nil)
