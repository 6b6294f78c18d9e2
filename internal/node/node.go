// Package node runs one ledger participant: it owns the identity, the vault
// and the transport, starts initiator runs for the entry points and serves
// responder sessions arriving from peers.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/iouledger/internal/domain"
	"github.com/alanyoungcy/iouledger/internal/flow"
	"github.com/alanyoungcy/iouledger/internal/notify"
)

// Roles a node can run as.
const (
	RoleParty  = "party"
	RoleNotary = "notary"
)

const defaultMaxSessions = 64

// Node is a running ledger participant.
type Node struct {
	me          domain.Party
	role        string
	notaryParty domain.Party
	vault       domain.Vault
	transport   domain.Transport
	initiator   *flow.Initiator
	responder   *flow.Responder
	notary      *flow.NotaryResponder

	bus      domain.SignalBus
	events   domain.EventLog
	archive  domain.TxArchive
	notifier *notify.Notifier
	logger   *slog.Logger

	maxSessions int
	started     time.Time
	committed   atomic.Int64
	aborted     atomic.Int64
	sessions    atomic.Int64
	active      atomic.Int64
}

// New creates a Node for me. Transactions it builds are assigned to
// notaryParty and notarised over transport.
func New(
	me domain.Party,
	signer flow.Signer,
	vault domain.Vault,
	transport domain.Transport,
	notaryParty domain.Party,
	logger *slog.Logger,
) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		me:          me,
		role:        RoleParty,
		notaryParty: notaryParty,
		vault:       vault,
		transport:   transport,
		initiator:   flow.NewInitiator(me, signer, vault, transport, flow.NewNotaryClient(transport, notaryParty, 0), notaryParty, logger),
		responder:   flow.NewResponder(me, signer, vault, notaryParty, logger),
		logger:      logger.With(slog.String("component", "node"), slog.String("party", me.Name)),
		maxSessions: defaultMaxSessions,
		started:     time.Now(),
	}
}

// WithNotaryService makes this node serve notarisation requests from svc.
func (n *Node) WithNotaryService(svc domain.Notary) *Node {
	n.role = RoleNotary
	n.notary = flow.NewNotaryResponder(svc, n.logger)
	return n
}

// WithTimeouts overrides the per-exchange session timeout, the notary call
// timeout and the cash reservation TTL. Zero values keep the defaults.
func (n *Node) WithTimeouts(session, notaryCall, cashLock time.Duration) *Node {
	n.initiator.WithTimeouts(session, cashLock)
	n.responder.WithTimeout(session)
	if notaryCall > 0 {
		n.initiator.WithNotary(flow.NewNotaryClient(n.transport, n.notaryParty, notaryCall))
	}
	return n
}

// WithLocks reserves selected cash through locks while a settlement runs.
func (n *Node) WithLocks(locks domain.LockManager) *Node {
	n.initiator.WithLocks(locks)
	return n
}

// WithBus publishes every TxEvent on bus.
func (n *Node) WithBus(bus domain.SignalBus) *Node {
	n.bus = bus
	return n
}

// WithEventLog appends every TxEvent to log.
func (n *Node) WithEventLog(log domain.EventLog) *Node {
	n.events = log
	return n
}

// WithArchive copies every committed transaction to archive.
func (n *Node) WithArchive(archive domain.TxArchive) *Node {
	n.archive = archive
	return n
}

// WithNotifier sends TxEvents to operator channels.
func (n *Node) WithNotifier(notifier *notify.Notifier) *Node {
	n.notifier = notifier
	return n
}

// WithMaxSessions bounds the number of inbound sessions handled at once.
func (n *Node) WithMaxSessions(max int) *Node {
	if max > 0 {
		n.maxSessions = max
	}
	return n
}

// Party returns the node identity.
func (n *Node) Party() domain.Party { return n.me }

// Role returns RoleParty or RoleNotary.
func (n *Node) Role() string { return n.role }

// Vault returns the node's vault.
func (n *Node) Vault() domain.Vault { return n.vault }

// Events returns the event log, or nil when none is attached.
func (n *Node) Events() domain.EventLog { return n.events }

// Issue records a new IOU of amount owed by borrower to lender.
func (n *Node) Issue(ctx context.Context, amount domain.Amount, lender, borrower domain.Party) (domain.SignedTransaction, error) {
	stx, err := n.initiator.Issue(ctx, amount, lender, borrower)
	n.finish(ctx, roleInitiator, flow.ProtocolIssue, stx, err)
	return stx, err
}

// Transfer moves the IOU identified by linearID to newLender.
func (n *Node) Transfer(ctx context.Context, linearID string, newLender domain.Party) (domain.SignedTransaction, error) {
	stx, err := n.initiator.Transfer(ctx, linearID, newLender)
	n.finish(ctx, roleInitiator, flow.ProtocolTransfer, stx, err)
	return stx, err
}

// Settle pays amount of the IOU identified by linearID from this node's cash.
func (n *Node) Settle(ctx context.Context, linearID string, amount domain.Amount) (domain.SignedTransaction, error) {
	stx, err := n.initiator.Settle(ctx, linearID, amount)
	n.finish(ctx, roleInitiator, flow.ProtocolSettle, stx, err)
	return stx, err
}

// SelfIssueCash issues amount of cash to this node.
func (n *Node) SelfIssueCash(ctx context.Context, amount domain.Amount) (domain.SignedTransaction, error) {
	stx, err := n.initiator.SelfIssueCash(ctx, amount)
	n.finish(ctx, roleInitiator, flow.ProtocolCash, stx, err)
	return stx, err
}

// IOUs lists the unconsumed IOUs this node is a party to.
func (n *Node) IOUs(ctx context.Context) ([]domain.StateAndRef, error) {
	states, err := n.vault.Query(ctx, domain.Criteria{Kind: domain.KindIOU, Participant: n.me.Address})
	if err != nil {
		return nil, fmt.Errorf("node: list IOUs: %w", err)
	}
	return states, nil
}

// Cash lists the unconsumed cash this node owns.
func (n *Node) Cash(ctx context.Context) ([]domain.StateAndRef, error) {
	states, err := n.vault.Query(ctx, domain.Criteria{Kind: domain.KindCash, Owner: n.me.Address})
	if err != nil {
		return nil, fmt.Errorf("node: list cash: %w", err)
	}
	return states, nil
}

// CashBalances sums this node's cash per currency.
func (n *Node) CashBalances(ctx context.Context) (map[string]domain.Amount, error) {
	balances, err := flow.CashBalances(ctx, n.vault, n.me)
	if err != nil {
		return nil, fmt.Errorf("node: cash balances: %w", err)
	}
	return balances, nil
}

// Serve accepts inbound sessions until ctx is cancelled and handles each on
// its own goroutine, at most maxSessions at a time. It returns nil on
// cancellation and the transport error otherwise.
func (n *Node) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.maxSessions)

	n.logger.InfoContext(ctx, "node: serving sessions", slog.String("role", n.role))
	var acceptErr error
	for {
		sess, err := n.transport.Accept(gctx)
		if err != nil {
			if ctx.Err() == nil {
				acceptErr = fmt.Errorf("node: accept: %w", err)
			}
			break
		}
		g.Go(func() error {
			n.handle(gctx, sess)
			return nil
		})
	}
	_ = g.Wait()
	n.logger.InfoContext(ctx, "node: stopped serving")
	return acceptErr
}

// handle dispatches one inbound session by protocol.
func (n *Node) handle(ctx context.Context, sess domain.Session) {
	defer sess.Close()
	n.sessions.Add(1)
	n.active.Add(1)
	defer n.active.Add(-1)

	protocol := sess.Protocol()
	switch protocol {
	case flow.ProtocolIssue, flow.ProtocolTransfer, flow.ProtocolSettle:
		stx, err := n.responder.Handle(ctx, sess)
		n.finish(ctx, roleResponder, protocol, stx, err)

	case flow.ProtocolNotary:
		if n.notary == nil {
			n.logger.WarnContext(ctx, "node: notarisation requested from a non-notary",
				slog.String("from", sess.Counterparty().Name))
			return
		}
		stx, err := n.notary.Handle(ctx, sess)
		if err != nil && !errors.Is(err, domain.ErrDoubleSpend) {
			n.logger.WarnContext(ctx, "node: notarisation failed",
				slog.String("from", sess.Counterparty().Name),
				slog.String("error", err.Error()),
			)
			return
		}
		n.finish(ctx, roleNotary, protocol, stx, err)

	default:
		n.logger.WarnContext(ctx, "node: unknown protocol",
			slog.String("protocol", protocol),
			slog.String("from", sess.Counterparty().Name),
		)
	}
}

// Status is a point-in-time summary of the node.
type Status struct {
	Party          domain.Party `json:"party"`
	Role           string       `json:"role"`
	Uptime         string       `json:"uptime"`
	Committed      int64        `json:"committed"`
	Aborted        int64        `json:"aborted"`
	SessionsServed int64        `json:"sessions_served"`
	ActiveSessions int64        `json:"active_sessions"`
}

// Status reports counters since start.
func (n *Node) Status() Status {
	return Status{
		Party:          n.me,
		Role:           n.role,
		Uptime:         time.Since(n.started).Round(time.Second).String(),
		Committed:      n.committed.Load(),
		Aborted:        n.aborted.Load(),
		SessionsServed: n.sessions.Load(),
		ActiveSessions: n.active.Load(),
	}
}
