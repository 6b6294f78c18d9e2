// Package memory implements domain.Transport over in-process pipes. The
// sandbox mode and the protocol tests run every party on one Network.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

const (
	acceptBacklog = 64
	sessionBuffer = 16
)

// Network routes sessions between the endpoints that joined it.
type Network struct {
	mu        sync.RWMutex
	endpoints map[common.Address]*Endpoint
}

// NewNetwork creates an empty Network.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[common.Address]*Endpoint)}
}

// Join registers party on the network and returns its endpoint. Joining
// again with the same address replaces the previous endpoint.
func (n *Network) Join(party domain.Party) *Endpoint {
	ep := &Endpoint{
		net:    n,
		self:   party,
		inbox:  make(chan *session, acceptBacklog),
		closed: make(chan struct{}),
	}
	n.mu.Lock()
	if old, ok := n.endpoints[party.Address]; ok {
		old.shutdown()
	}
	n.endpoints[party.Address] = ep
	n.mu.Unlock()
	return ep
}

func (n *Network) lookup(addr common.Address) (*Endpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep, ok := n.endpoints[addr]
	return ep, ok
}

func (n *Network) leave(ep *Endpoint) {
	n.mu.Lock()
	if cur, ok := n.endpoints[ep.self.Address]; ok && cur == ep {
		delete(n.endpoints, ep.self.Address)
	}
	n.mu.Unlock()
}

// Endpoint is one party's attachment to a Network.
type Endpoint struct {
	net    *Network
	self   domain.Party
	inbox  chan *session
	closed chan struct{}
	once   sync.Once
}

// Party returns the identity this endpoint joined as.
func (e *Endpoint) Party() domain.Party {
	return e.self
}

// Open starts a session with to for protocol. It fails with
// domain.ErrSession when to is not on the network.
func (e *Endpoint) Open(ctx context.Context, to domain.Party, protocol string) (domain.Session, error) {
	select {
	case <-e.closed:
		return nil, fmt.Errorf("transport/memory: endpoint %s closed: %w", e.self.Name, domain.ErrSession)
	default:
	}

	peer, ok := e.net.lookup(to.Address)
	if !ok {
		return nil, fmt.Errorf("transport/memory: %s unreachable: %w", to, domain.ErrSession)
	}

	local, remote := newPair(uuid.NewString(), protocol, e.self, peer.self)
	select {
	case peer.inbox <- remote:
		return local, nil
	case <-peer.closed:
		return nil, fmt.Errorf("transport/memory: %s unreachable: %w", to, domain.ErrSession)
	case <-ctx.Done():
		return nil, fmt.Errorf("transport/memory: open %s: %w", to, ctx.Err())
	}
}

// Accept blocks until a counterparty opens a session to this endpoint.
func (e *Endpoint) Accept(ctx context.Context) (domain.Session, error) {
	select {
	case s := <-e.inbox:
		return s, nil
	case <-e.closed:
		return nil, fmt.Errorf("transport/memory: endpoint %s closed: %w", e.self.Name, domain.ErrSession)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close removes the endpoint from the network. Pending and future Accept
// calls fail.
func (e *Endpoint) Close() error {
	e.net.leave(e)
	e.shutdown()
	return nil
}

func (e *Endpoint) shutdown() {
	e.once.Do(func() { close(e.closed) })
}

// Compile-time interface check.
var _ domain.Transport = (*Endpoint)(nil)
