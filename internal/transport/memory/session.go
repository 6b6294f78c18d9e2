package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// session is one end of an in-process pipe. Each end owns its inbound queue
// and its done channel; the peer's done channel signals the far side closed.
type session struct {
	id       string
	protocol string
	peer     domain.Party

	in       chan domain.Message
	out      chan domain.Message
	done     chan struct{}
	peerDone chan struct{}
	once     sync.Once
}

func newPair(id, protocol string, a, b domain.Party) (*session, *session) {
	aToB := make(chan domain.Message, sessionBuffer)
	bToA := make(chan domain.Message, sessionBuffer)
	aDone := make(chan struct{})
	bDone := make(chan struct{})

	sa := &session{id: id, protocol: protocol, peer: b, in: bToA, out: aToB, done: aDone, peerDone: bDone}
	sb := &session{id: id, protocol: protocol, peer: a, in: aToB, out: bToA, done: bDone, peerDone: aDone}
	return sa, sb
}

func (s *session) ID() string { return s.id }
func (s *session) Protocol() string { return s.protocol }
func (s *session) Counterparty() domain.Party { return s.peer }

func (s *session) Send(ctx context.Context, msg domain.Message) error {
	select {
	case <-s.done:
		return fmt.Errorf("transport/memory: session %s closed: %w", s.id, domain.ErrSession)
	case <-s.peerDone:
		return fmt.Errorf("transport/memory: %s closed session %s: %w", s.peer.Name, s.id, domain.ErrSession)
	default:
	}

	select {
	case s.out <- msg:
		return nil
	case <-s.done:
		return fmt.Errorf("transport/memory: session %s closed: %w", s.id, domain.ErrSession)
	case <-s.peerDone:
		return fmt.Errorf("transport/memory: %s closed session %s: %w", s.peer.Name, s.id, domain.ErrSession)
	case <-ctx.Done():
		return fmt.Errorf("transport/memory: send on %s: %w", s.id, ctx.Err())
	}
}

// Receive returns the next message. Messages the peer sent before closing
// are still delivered.
func (s *session) Receive(ctx context.Context) (domain.Message, error) {
	select {
	case msg := <-s.in:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.in:
		return msg, nil
	case <-s.done:
		return domain.Message{}, fmt.Errorf("transport/memory: session %s closed: %w", s.id, domain.ErrSession)
	case <-s.peerDone:
		select {
		case msg := <-s.in:
			return msg, nil
		default:
		}
		return domain.Message{}, fmt.Errorf("transport/memory: %s closed session %s: %w", s.peer.Name, s.id, domain.ErrSession)
	case <-ctx.Done():
		return domain.Message{}, fmt.Errorf("transport/memory: receive on %s: %w", s.id, ctx.Err())
	}
}

func (s *session) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
