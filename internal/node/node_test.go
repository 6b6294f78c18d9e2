package node

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/cache/memory"
	"github.com/alanyoungcy/iouledger/internal/crypto"
	"github.com/alanyoungcy/iouledger/internal/domain"
	"github.com/alanyoungcy/iouledger/internal/flow"
	"github.com/alanyoungcy/iouledger/internal/notary"
	transport "github.com/alanyoungcy/iouledger/internal/transport/memory"
	"github.com/alanyoungcy/iouledger/internal/vault"
)

func gbp(pounds int64) domain.Amount { return domain.NewAmount(pounds*100, "GBP") }

type memArchive struct {
	mu  sync.Mutex
	txs map[domain.TxID]domain.SignedTransaction
}

func (a *memArchive) Archive(_ context.Context, stx domain.SignedTransaction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txs[stx.ID] = stx
	return nil
}

func (a *memArchive) Fetch(_ context.Context, id domain.TxID) (domain.SignedTransaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stx, ok := a.txs[id]
	if !ok {
		return domain.SignedTransaction{}, domain.ErrNotFound
	}
	return stx, nil
}

func (a *memArchive) has(id domain.TxID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.txs[id]
	return ok
}

type cluster struct {
	ctx     context.Context
	bus     *memory.SignalBus
	archive *memArchive
	notary  *Node
	nodes   map[string]*Node
}

func newCluster(t *testing.T, names ...string) *cluster {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	net := transport.NewNetwork()
	c := &cluster{
		ctx:     ctx,
		bus:     memory.NewSignalBus(),
		archive: &memArchive{txs: map[domain.TxID]domain.SignedTransaction{}},
		nodes:   map[string]*Node{},
	}

	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	serve := func(n *Node) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, n.Serve(ctx))
		}()
	}

	ns, err := crypto.GenerateSigner()
	require.NoError(t, err)
	notaryParty := domain.Party{Name: "Notary", Address: ns.Address()}
	svc, err := notary.NewService(notaryParty, ns, notary.NewMemoryUniqueness(), nil)
	require.NoError(t, err)
	c.notary = New(notaryParty, ns, vault.NewMemory(), net.Join(notaryParty), notaryParty, nil).
		WithNotaryService(svc).
		WithEventLog(memory.NewEventLog(0))
	serve(c.notary)

	for _, name := range names {
		s, err := crypto.GenerateSigner()
		require.NoError(t, err)
		p := domain.Party{Name: name, Address: s.Address()}
		n := New(p, s, vault.NewMemory(), net.Join(p), notaryParty, nil).
			WithTimeouts(2*time.Second, 2*time.Second, time.Minute).
			WithLocks(memory.NewLockManager()).
			WithBus(c.bus).
			WithEventLog(memory.NewEventLog(0)).
			WithArchive(c.archive)
		c.nodes[name] = n
		serve(n)
	}
	return c
}

func recentEvents(t *testing.T, n *Node) []string {
	t.Helper()
	evs, err := n.Events().Recent(context.Background(), 0)
	require.NoError(t, err)
	names := make([]string, 0, len(evs))
	for _, ev := range evs {
		names = append(names, ev.Event+"/"+ev.Role)
	}
	return names
}

func TestNodeLifecycle(t *testing.T) {
	c := newCluster(t, "Alice", "Bob", "Charlie")
	alice, bob, charlie := c.nodes["Alice"], c.nodes["Bob"], c.nodes["Charlie"]
	ctx := c.ctx

	events, err := c.bus.Subscribe(ctx, domain.ChannelTx)
	require.NoError(t, err)

	issued, err := alice.Issue(ctx, gbp(10), alice.Party(), bob.Party())
	require.NoError(t, err)
	linearID := issued.Tx.Outputs[0].IOU.LinearID

	select {
	case payload := <-events:
		var ev domain.TxEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		assert.Equal(t, issued.ID.Hex(), ev.TxID)
		require.Len(t, ev.IOUs, 1)
		assert.Equal(t, linearID, ev.IOUs[0].LinearID)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	_, err = alice.Transfer(ctx, linearID, charlie.Party())
	require.NoError(t, err)
	_, err = bob.SelfIssueCash(ctx, gbp(10))
	require.NoError(t, err)
	settled, err := bob.Settle(ctx, linearID, gbp(4))
	require.NoError(t, err)

	ious, err := charlie.IOUs(ctx)
	require.NoError(t, err)
	require.Len(t, ious, 1)
	assert.Equal(t, gbp(4), ious[0].State.IOU.Paid)

	aliceIOUs, err := alice.IOUs(ctx)
	require.NoError(t, err)
	assert.Empty(t, aliceIOUs)

	balances, err := charlie.CashBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, gbp(4), balances["GBP"])
	cash, err := bob.Cash(ctx)
	require.NoError(t, err)
	require.Len(t, cash, 1)
	assert.Equal(t, gbp(6), cash[0].State.Cash.Amount)

	assert.True(t, c.archive.has(settled.ID))
	assert.Equal(t, int64(4), bob.Status().Committed, "issue, transfer, cash issue and settle")

	assert.Eventually(t, func() bool {
		evs := recentEvents(t, charlie)
		return len(evs) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"iou_settled/responder", "iou_transferred/responder"}, recentEvents(t, charlie))
	assert.Eventually(t, func() bool {
		return len(recentEvents(t, c.notary)) == 4
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, recentEvents(t, c.notary), "tx_notarised/notary")

	stream, err := c.bus.StreamRead(ctx, domain.StreamTx, "0", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, stream)
}

func TestNodeRecordsAbort(t *testing.T) {
	c := newCluster(t, "Alice", "Bob")
	alice, bob := c.nodes["Alice"], c.nodes["Bob"]

	_, err := alice.Issue(c.ctx, gbp(0), alice.Party(), bob.Party())
	require.ErrorIs(t, err, domain.ErrValidation)

	evs, err := alice.Events().Recent(c.ctx, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventFlowAborted, evs[0].Event)
	assert.Equal(t, "iou-issue", evs[0].Protocol)
	assert.Contains(t, evs[0].Error, "positive amount")
	assert.Equal(t, int64(1), alice.Status().Aborted)
	assert.Equal(t, int64(0), bob.Status().SessionsServed)
}

func TestNodeRefusesNotarisationWithoutService(t *testing.T) {
	c := newCluster(t, "Alice", "Bob")
	alice, bob := c.nodes["Alice"], c.nodes["Bob"]

	// Bob is not a notary; a request to him ends without a signature.
	alice.initiator.WithNotary(notaryVia(alice, bob.Party()))
	_, err := alice.Issue(c.ctx, gbp(1), alice.Party(), bob.Party())
	require.ErrorIs(t, err, domain.ErrNotarizationFailed)

	ious, err := bob.IOUs(c.ctx)
	require.NoError(t, err)
	assert.Empty(t, ious)
	assert.Equal(t, RoleParty, bob.Role())
	assert.Equal(t, RoleNotary, c.notary.Role())
}

func notaryVia(n *Node, p domain.Party) domain.Notary {
	return flow.NewNotaryClient(n.transport, p, time.Second)
}
