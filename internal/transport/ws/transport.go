// Package ws implements domain.Transport over websockets. Each protocol
// session is its own connection, opened with an HMAC-signed handshake.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/iouledger/internal/crypto"
	"github.com/alanyoungcy/iouledger/internal/domain"
)

// acceptBacklog is the number of inbound sessions queued for Accept.
const acceptBacklog = 64

// Peer is a counterparty reachable over the network.
type Peer struct {
	Party domain.Party
	URL   string // ws:// or wss:// endpoint serving Handler
}

// Config holds the transport's identity, address book and credentials.
type Config struct {
	Self   domain.Party
	Peers  []Peer
	Auth   *crypto.PeerAuth
	Logger *slog.Logger
}

// Transport dials peers for outbound sessions and upgrades authenticated
// inbound connections served by Handler.
type Transport struct {
	self   domain.Party
	auth   *crypto.PeerAuth
	guard  *ReplayGuard
	logger *slog.Logger
	dialer websocket.Dialer

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[common.Address]Peer

	inbox     chan domain.Session
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a Transport. Inbound connections are only accepted from
// addresses listed in cfg.Peers.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	skew := cfg.Auth.MaxClockSkew
	if skew <= 0 {
		skew = crypto.DefaultMaxClockSkew
	}

	t := &Transport{
		self:   cfg.Self,
		auth:   cfg.Auth,
		guard:  NewReplayGuard(2 * skew),
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are authenticated by the signed handshake, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers:  make(map[common.Address]Peer, len(cfg.Peers)),
		inbox:  make(chan domain.Session, acceptBacklog),
		closed: make(chan struct{}),
	}
	for _, p := range cfg.Peers {
		t.peers[p.Party.Address] = p
	}
	return t
}

// AddPeer adds or replaces an address book entry.
func (t *Transport) AddPeer(p Peer) {
	t.mu.Lock()
	t.peers[p.Party.Address] = p
	t.mu.Unlock()
}

func (t *Transport) peer(addr common.Address) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[addr]
	return p, ok
}

// Open dials to and starts a protocol session.
func (t *Transport) Open(ctx context.Context, to domain.Party, protocol string) (domain.Session, error) {
	p, ok := t.peer(to.Address)
	if !ok || p.URL == "" {
		return nil, fmt.Errorf("transport/ws: no route to %s: %w", to, domain.ErrSession)
	}

	id := uuid.NewString()
	hdr := t.auth.Headers(crypto.Handshake{
		From:        t.self.Name,
		FromAddress: t.self.Address.Hex(),
		SessionID:   id,
		Protocol:    protocol,
	})

	conn, resp, err := t.dialer.DialContext(ctx, p.URL, hdr)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("transport/ws: dial %s (status %d): %w: %v", to, status, domain.ErrSession, err)
	}

	t.logger.Debug("transport/ws: session opened",
		slog.String("session", id),
		slog.String("protocol", protocol),
		slog.String("peer", p.Party.Name),
	)
	return newSession(conn, id, protocol, p.Party), nil
}

// Accept blocks until an authenticated peer opens a session.
func (t *Transport) Accept(ctx context.Context) (domain.Session, error) {
	select {
	case s := <-t.inbox:
		return s, nil
	case <-t.closed:
		return nil, fmt.Errorf("transport/ws: closed: %w", domain.ErrSession)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new sessions. Established sessions are unaffected.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// ServeHTTP authenticates and upgrades an inbound session.
// GET /p2p
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs, err := t.auth.Verify(r.Header, time.Now())
	if err != nil {
		t.logger.Warn("transport/ws: handshake rejected",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		status := http.StatusUnauthorized
		if errors.Is(err, crypto.ErrMissingHeader) {
			status = http.StatusBadRequest
		}
		http.Error(w, "handshake rejected", status)
		return
	}

	if !common.IsHexAddress(hs.FromAddress) {
		http.Error(w, "bad peer address", http.StatusBadRequest)
		return
	}
	p, ok := t.peer(common.HexToAddress(hs.FromAddress))
	if !ok {
		t.logger.Warn("transport/ws: unknown peer",
			slog.String("from", hs.From),
			slog.String("address", hs.FromAddress),
		)
		http.Error(w, "unknown peer", http.StatusForbidden)
		return
	}
	if t.guard.Seen(hs.SessionID) {
		http.Error(w, "session replayed", http.StatusConflict)
		return
	}

	select {
	case <-t.closed:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("transport/ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	s := newSession(conn, hs.SessionID, strings.TrimSpace(hs.Protocol), p.Party)
	select {
	case t.inbox <- s:
	default:
		t.logger.Warn("transport/ws: accept backlog full, dropping session",
			slog.String("session", hs.SessionID),
			slog.String("peer", p.Party.Name),
		)
		_ = s.Close()
	}
}

// Compile-time interface checks.
var (
	_ domain.Transport = (*Transport)(nil)
	_ http.Handler     = (*Transport)(nil)
)
