package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/crypto"
	"github.com/alanyoungcy/iouledger/internal/domain"
	"github.com/alanyoungcy/iouledger/internal/notary"
	"github.com/alanyoungcy/iouledger/internal/transport/memory"
	"github.com/alanyoungcy/iouledger/internal/vault"
)

const testTimeout = 2 * time.Second

func gbp(pounds int64) domain.Amount { return domain.NewAmount(pounds*100, "GBP") }

// testNode is one party on a testNet with its own keys, vault and roles.
type testNode struct {
	party     domain.Party
	signer    *crypto.Signer
	vault     *vault.Memory
	endpoint  *memory.Endpoint
	initiator *Initiator
	responder *Responder

	mu      sync.Mutex
	handled []error
	phases  []Phase
}

// handledErrs returns the outcome of every responder session so far.
func (n *testNode) handledErrs() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.handled...)
}

func (n *testNode) seenPhases() []Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Phase(nil), n.phases...)
}

// ious returns the unconsumed IOUs the node is a party to.
func (n *testNode) ious(t *testing.T) []domain.IOU {
	t.Helper()
	found, err := n.vault.Query(context.Background(), domain.Criteria{Kind: domain.KindIOU, Participant: n.party.Address})
	require.NoError(t, err)
	out := make([]domain.IOU, 0, len(found))
	for _, s := range found {
		out = append(out, *s.State.IOU)
	}
	return out
}

// testNet is an in-process network with a notary and named parties.
type testNet struct {
	t        *testing.T
	ctx      context.Context
	net      *memory.Network
	notary   domain.Party
	notaryEP *memory.Endpoint
	nodes    map[string]*testNode
}

func newTestNet(t *testing.T, names ...string) *testNet {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tn := &testNet{t: t, ctx: ctx, net: memory.NewNetwork(), nodes: make(map[string]*testNode)}

	ns, err := crypto.GenerateSigner()
	require.NoError(t, err)
	tn.notary = domain.Party{Name: "Notary", Address: ns.Address()}
	svc, err := notary.NewService(tn.notary, ns, notary.NewMemoryUniqueness(), nil)
	require.NoError(t, err)
	tn.notaryEP = tn.net.Join(tn.notary)
	notaryResponder := NewNotaryResponder(svc, nil)
	go tn.serve(tn.notaryEP, func(sess domain.Session) error {
		_, err := notaryResponder.Handle(ctx, sess)
		return err
	})

	for _, name := range names {
		tn.add(name)
	}
	return tn
}

func (tn *testNet) add(name string) *testNode {
	tn.t.Helper()
	s, err := crypto.GenerateSigner()
	require.NoError(tn.t, err)
	p := domain.Party{Name: name, Address: s.Address()}
	ep := tn.net.Join(p)
	v := vault.NewMemory()

	n := &testNode{party: p, signer: s, vault: v, endpoint: ep}
	n.initiator = NewInitiator(p, s, v, ep, NewNotaryClient(ep, tn.notary, testTimeout), tn.notary, nil).
		WithTimeouts(testTimeout, 0).
		OnPhase(func(_ string, ph Phase) {
			n.mu.Lock()
			n.phases = append(n.phases, ph)
			n.mu.Unlock()
		})
	n.responder = NewResponder(p, s, v, tn.notary, nil).WithTimeout(testTimeout)

	go tn.serve(ep, func(sess domain.Session) error {
		_, err := n.responder.Handle(tn.ctx, sess)
		n.mu.Lock()
		n.handled = append(n.handled, err)
		n.mu.Unlock()
		return err
	})
	tn.nodes[name] = n
	return n
}

func (tn *testNet) serve(ep *memory.Endpoint, handle func(domain.Session) error) {
	for {
		sess, err := ep.Accept(tn.ctx)
		if err != nil {
			return
		}
		go func() {
			defer sess.Close()
			_ = handle(sess)
		}()
	}
}

func (tn *testNet) node(name string) *testNode {
	n, ok := tn.nodes[name]
	require.True(tn.t, ok, "no node %s", name)
	return n
}
