package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/iouledger/internal/contract"
	"github.com/alanyoungcy/iouledger/internal/crypto"
	"github.com/alanyoungcy/iouledger/internal/domain"
)

const (
	defaultSessionTimeout = 30 * time.Second
	defaultCashLockTTL    = 2 * time.Minute
)

// Signer signs transaction ids with the node identity key.
type Signer interface {
	SignTx(id domain.TxID) (domain.Signature, error)
	Address() common.Address
}

// Draft is a candidate transaction together with the states it consumes.
// Release, if set, is called once the run ends.
type Draft struct {
	Tx      domain.WireTransaction
	Inputs  []domain.StateAndRef
	Release func()
}

// Builder produces the Draft for one run.
type Builder func(ctx context.Context) (Draft, error)

// Initiator drives a transaction from construction to finality.
type Initiator struct {
	me        domain.Party
	signer    Signer
	vault     domain.Vault
	transport domain.Transport
	notary    domain.Notary
	notaryID  domain.Party
	locks     domain.LockManager
	logger    *slog.Logger

	sessionTimeout time.Duration
	cashLockTTL    time.Duration
	onPhase        func(protocol string, p Phase)
}

// NewInitiator creates an Initiator for me. notaryID names the notary every
// built transaction is assigned to; notary finalizes them.
func NewInitiator(
	me domain.Party,
	signer Signer,
	vault domain.Vault,
	transport domain.Transport,
	notary domain.Notary,
	notaryID domain.Party,
	logger *slog.Logger,
) *Initiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Initiator{
		me:             me,
		signer:         signer,
		vault:          vault,
		transport:      transport,
		notary:         notary,
		notaryID:       notaryID,
		logger:         logger.With(slog.String("component", "initiator"), slog.String("party", me.Name)),
		sessionTimeout: defaultSessionTimeout,
		cashLockTTL:    defaultCashLockTTL,
	}
}

// WithLocks attaches a LockManager used to reserve cash during settlement.
func (in *Initiator) WithLocks(locks domain.LockManager) *Initiator {
	in.locks = locks
	return in
}

// WithNotary replaces the notary client used to finalize transactions.
func (in *Initiator) WithNotary(notary domain.Notary) *Initiator {
	in.notary = notary
	return in
}

// WithTimeouts overrides the per-exchange session timeout and the cash
// reservation TTL. Zero values keep the defaults.
func (in *Initiator) WithTimeouts(session, cashLock time.Duration) *Initiator {
	if session > 0 {
		in.sessionTimeout = session
	}
	if cashLock > 0 {
		in.cashLockTTL = cashLock
	}
	return in
}

// OnPhase registers a hook called on every phase transition.
func (in *Initiator) OnPhase(fn func(protocol string, p Phase)) *Initiator {
	in.onPhase = fn
	return in
}

// Party returns the identity this initiator acts as.
func (in *Initiator) Party() domain.Party {
	return in.me
}

// Run builds, verifies and signs a transaction, collects every counterparty
// signature, has it notarised, records it and distributes it. Nothing is
// written to the vault unless the run commits.
func (in *Initiator) Run(ctx context.Context, protocol string, build Builder) (domain.SignedTransaction, error) {
	log := in.logger.With(slog.String("protocol", protocol))
	phase := PhaseBuilding
	var sessions []domain.Session

	defer func() {
		for _, s := range sessions {
			_ = s.Close()
		}
	}()

	enter := func(p Phase) {
		phase = p
		log.DebugContext(ctx, "flow: phase", slog.String("phase", string(p)))
		if in.onPhase != nil {
			in.onPhase(protocol, p)
		}
	}
	abort := func(err error) (domain.SignedTransaction, error) {
		failed := phase
		enter(PhaseAborted)
		log.WarnContext(ctx, "flow: aborted",
			slog.String("phase", string(failed)),
			slog.String("error", err.Error()),
		)
		return domain.SignedTransaction{}, &Error{Protocol: protocol, Phase: failed, Err: err}
	}

	enter(PhaseBuilding)
	draft, err := build(ctx)
	if err != nil {
		return abort(err)
	}
	if draft.Release != nil {
		defer draft.Release()
	}

	ltx, err := draft.Tx.Resolve(draft.Inputs)
	if err != nil {
		return abort(err)
	}

	enter(PhaseLocallySigned)
	if err := contract.Verify(ltx); err != nil {
		return abort(err)
	}
	deps, err := in.dependencies(ctx, draft.Tx.Inputs)
	if err != nil {
		return abort(err)
	}

	stx := domain.NewSignedTransaction(draft.Tx)
	own, err := in.signer.SignTx(stx.ID)
	if err != nil {
		return abort(err)
	}
	stx = stx.WithSignature(own)
	log = log.With(slog.String("tx_id", stx.ID.Hex()))

	counterparties, err := in.counterparties(draft)
	if err != nil {
		return abort(err)
	}

	enter(PhaseCollecting)
	proposal, err := domain.NewMessage(msgProposal, Proposal{
		Transaction:  stx,
		Inputs:       draft.Inputs,
		Dependencies: deps,
	})
	if err != nil {
		return abort(err)
	}
	for _, cp := range counterparties {
		sess, err := in.transport.Open(ctx, cp, protocol)
		if err != nil {
			return abort(err)
		}
		sessions = append(sessions, sess)

		sig, err := in.requestSignature(ctx, sess, stx.ID, proposal)
		if err != nil {
			return abort(err)
		}
		stx = stx.WithSignature(sig)
		log.InfoContext(ctx, "flow: counter-signed", slog.String("by", cp.Name))
	}

	enter(PhaseFinalizing)
	notarySig, err := in.notary.Notarise(ctx, stx)
	if err != nil {
		if !errors.Is(err, domain.ErrDoubleSpend) && !errors.Is(err, domain.ErrNotarizationFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrNotarizationFailed, err)
		}
		return abort(err)
	}
	if notarySig.By != draft.Tx.Notary.Address {
		return abort(fmt.Errorf("flow: signature from %s, expected notary %s: %w",
			notarySig.By.Hex(), draft.Tx.Notary.Address.Hex(), domain.ErrNotarizationFailed))
	}
	if err := crypto.VerifySignature(stx.ID, notarySig); err != nil {
		return abort(fmt.Errorf("%w: %w", domain.ErrNotarizationFailed, err))
	}
	stx = stx.WithSignature(notarySig)

	if err := in.vault.Record(ctx, stx); err != nil {
		return abort(err)
	}
	enter(PhaseCommitted)

	in.distribute(ctx, log, sessions, stx)
	log.InfoContext(ctx, "flow: committed", slog.Int("counterparties", len(counterparties)))
	return stx, nil
}

// requestSignature sends the proposal on sess and waits for the reply.
func (in *Initiator) requestSignature(ctx context.Context, sess domain.Session, id domain.TxID, proposal domain.Message) (domain.Signature, error) {
	cp := sess.Counterparty()
	rctx, cancel := context.WithTimeout(ctx, in.sessionTimeout)
	defer cancel()

	if err := sess.Send(rctx, proposal); err != nil {
		return domain.Signature{}, sessionErr(err)
	}
	reply, err := sess.Receive(rctx)
	if err != nil {
		return domain.Signature{}, sessionErr(err)
	}

	switch reply.Type {
	case msgSignature:
		var sig domain.Signature
		if err := reply.Decode(&sig); err != nil {
			return domain.Signature{}, fmt.Errorf("%w: %w", domain.ErrSession, err)
		}
		if sig.By != cp.Address {
			return domain.Signature{}, fmt.Errorf("flow: %s returned a signature by %s: %w",
				cp.Name, sig.By.Hex(), domain.ErrInvalidSignature)
		}
		if err := crypto.VerifySignature(id, sig); err != nil {
			return domain.Signature{}, err
		}
		return sig, nil
	case msgReject:
		var rej Rejection
		if err := reply.Decode(&rej); err != nil {
			return domain.Signature{}, fmt.Errorf("%w: %w", domain.ErrSession, err)
		}
		return domain.Signature{}, &domain.RejectionError{Party: cp.Name, Kind: rej.Kind, Reason: rej.Reason}
	default:
		return domain.Signature{}, fmt.Errorf("flow: unexpected %q reply from %s: %w", reply.Type, cp.Name, domain.ErrSession)
	}
}

// distribute sends the final transaction on every session and waits for the
// acknowledgements. The transaction is already final, so failures are only
// logged.
func (in *Initiator) distribute(ctx context.Context, log *slog.Logger, sessions []domain.Session, stx domain.SignedTransaction) {
	msg, err := domain.NewMessage(msgFinality, Finality{Transaction: stx})
	if err != nil {
		log.ErrorContext(ctx, "flow: encode finality", slog.String("error", err.Error()))
		return
	}
	for _, sess := range sessions {
		peer := sess.Counterparty().Name
		rctx, cancel := context.WithTimeout(ctx, in.sessionTimeout)
		err := sess.Send(rctx, msg)
		if err == nil {
			var ack domain.Message
			ack, err = sess.Receive(rctx)
			if err == nil && ack.Type != msgAck {
				err = fmt.Errorf("unexpected %q reply", ack.Type)
			}
		}
		cancel()
		if err != nil {
			log.WarnContext(ctx, "flow: finality not acknowledged",
				slog.String("peer", peer),
				slog.String("error", err.Error()),
			)
		}
	}
}

// counterparties lists the required signers other than this node and the
// notary, resolved to parties named in the draft's states.
func (in *Initiator) counterparties(d Draft) ([]domain.Party, error) {
	known := map[common.Address]domain.Party{}
	collect := func(s domain.State) {
		for _, p := range s.Participants() {
			known[p.Address] = p
		}
		if s.Cash != nil {
			known[s.Cash.Issuer.Address] = s.Cash.Issuer
		}
	}
	for _, s := range d.Inputs {
		collect(s.State)
	}
	for _, s := range d.Tx.Outputs {
		collect(s)
	}

	var out []domain.Party
	for _, addr := range d.Tx.RequiredSigners() {
		if addr == in.me.Address || addr == d.Tx.Notary.Address {
			continue
		}
		p, ok := known[addr]
		if !ok {
			return nil, fmt.Errorf("flow: required signer %s is not a party to the transaction: %w", addr.Hex(), domain.ErrValidation)
		}
		out = append(out, p)
	}
	return out, nil
}

// dependencies loads the transactions that produced refs from the vault.
func (in *Initiator) dependencies(ctx context.Context, refs []domain.StateRef) ([]domain.SignedTransaction, error) {
	seen := map[domain.TxID]bool{}
	var deps []domain.SignedTransaction
	for _, ref := range refs {
		if seen[ref.TxID] {
			continue
		}
		seen[ref.TxID] = true
		stx, err := in.vault.Transaction(ctx, ref.TxID)
		if err != nil {
			return nil, fmt.Errorf("flow: dependency %s: %w", ref.TxID.Hex(), err)
		}
		deps = append(deps, stx)
	}
	return deps, nil
}

func sessionErr(err error) error {
	if errors.Is(err, domain.ErrSession) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrSession, err)
}
