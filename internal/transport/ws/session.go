package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds a single protocol message. Proposals carry their
	// dependency transactions, so this is generous.
	maxMessageSize = 4 << 20

	// recvBufferSize is the channel buffer for inbound messages per session.
	recvBufferSize = 16
)

// session is a domain.Session over one websocket connection.
type session struct {
	id       string
	protocol string
	peer     domain.Party
	conn     *websocket.Conn

	writeMu sync.Mutex
	in      chan domain.Message
	done    chan struct{} // closed by Close
	gone    chan struct{} // closed when the read pump exits
	readErr error
	once    sync.Once
}

func newSession(conn *websocket.Conn, id, protocol string, peer domain.Party) *session {
	s := &session{
		id:       id,
		protocol: protocol,
		peer:     peer,
		conn:     conn,
		in:       make(chan domain.Message, recvBufferSize),
		done:     make(chan struct{}),
		gone:     make(chan struct{}),
	}
	go s.readPump()
	go s.pingLoop()
	return s
}

func (s *session) ID() string { return s.id }
func (s *session) Protocol() string { return s.protocol }
func (s *session) Counterparty() domain.Party { return s.peer }

// readPump decodes text frames into messages until the connection fails.
func (s *session) readPump() {
	defer close(s.gone)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.readErr = fmt.Errorf("decode frame: %w", err)
			return
		}
		select {
		case s.in <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.gone:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *session) Send(ctx context.Context, msg domain.Message) error {
	select {
	case <-s.done:
		return fmt.Errorf("transport/ws: session %s closed: %w", s.id, domain.ErrSession)
	case <-s.gone:
		return fmt.Errorf("transport/ws: %s closed session %s: %w", s.peer.Name, s.id, domain.ErrSession)
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport/ws: encode %s: %w", msg.Type, err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport/ws: send on %s: %w: %v", s.id, domain.ErrSession, err)
	}
	return nil
}

// Receive returns the next message. Messages that arrived before the peer
// closed are still delivered.
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
		return domain.Message{}, fmt.Errorf("transport/ws: session %s closed: %w", s.id, domain.ErrSession)
	case <-s.gone:
		select {
		case msg := <-s.in:
			return msg, nil
		default:
		}
		return domain.Message{}, fmt.Errorf("transport/ws: %s closed session %s: %w: %v",
			s.peer.Name, s.id, domain.ErrSession, s.readErr)
	case <-ctx.Done():
		return domain.Message{}, fmt.Errorf("transport/ws: receive on %s: %w", s.id, ctx.Err())
	}
}

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
