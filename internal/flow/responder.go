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

// Check is an extra acceptance rule a responder applies for one protocol
// after the contracts pass. It returns the reason to reject, or "".
type Check func(ltx domain.LedgerTransaction) string

// Rules applied by the default protocol checks.
const (
	ReasonIOUTransaction    = "This must be an IOU transaction"
	ReasonIOUInTransaction  = "There must be an IOU transaction."
	ReasonAlreadyProposed   = "A proposal was already received on this session."
	ReasonIDMismatch        = "Transaction id does not match its contents."
	ReasonUnknownNotary     = "Transaction names an unknown notary."
	ReasonInputsMismatch    = "Resolved inputs do not match the transaction inputs."
	ReasonInitiatorUnsigned = "The initiator has not signed the transaction."
	ReasonNotSigner         = "We are not a required signer of this transaction."
)

// DefaultChecks returns the per-protocol checks for the IOU protocols.
func DefaultChecks() map[string]Check {
	singleIOUOutput := func(ltx domain.LedgerTransaction) string {
		if len(ltx.Outputs) != 1 || ltx.Outputs[0].IOU == nil {
			return ReasonIOUTransaction
		}
		return ""
	}
	return map[string]Check{
		ProtocolIssue:    singleIOUOutput,
		ProtocolTransfer: singleIOUOutput,
		ProtocolSettle: func(ltx domain.LedgerTransaction) string {
			// A full settlement has no IOU output, so the consumed IOU counts.
			if len(ltx.OutputIOUs()) == 0 && len(ltx.InputIOUs()) == 0 {
				return ReasonIOUInTransaction
			}
			return ""
		},
	}
}

// Responder validates and counter-signs proposals arriving on inbound
// sessions.
type Responder struct {
	me      domain.Party
	signer  Signer
	vault   domain.Vault
	notary  domain.Party
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

// NewResponder creates a Responder for me that only accepts transactions
// assigned to notary.
func NewResponder(me domain.Party, signer Signer, vault domain.Vault, notary domain.Party, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		me:      me,
		signer:  signer,
		vault:   vault,
		notary:  notary,
		checks:  DefaultChecks(),
		timeout: defaultSessionTimeout,
		logger:  logger.With(slog.String("component", "responder"), slog.String("party", me.Name)),
	}
}

// WithTimeout overrides how long the responder waits for each message.
func (r *Responder) WithTimeout(d time.Duration) *Responder {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// WithCheck replaces the check for protocol. A nil check removes it.
func (r *Responder) WithCheck(protocol string, c Check) *Responder {
	if c == nil {
		delete(r.checks, protocol)
	} else {
		r.checks[protocol] = c
	}
	return r
}

// Handle runs one responder session to completion. It returns the recorded
// transaction, or the reason the session ended without one. A session
// yields at most one signature.
func (r *Responder) Handle(ctx context.Context, sess domain.Session) (domain.SignedTransaction, error) {
	initiator := sess.Counterparty()
	log := r.logger.With(
		slog.String("session", sess.ID()),
		slog.String("protocol", sess.Protocol()),
		slog.String("initiator", initiator.Name),
	)
	state := StateAwaitingProposal
	enter := func(s ResponderState) {
		state = s
		log.DebugContext(ctx, "flow: responder state", slog.String("state", string(s)))
	}
	enter(StateAwaitingProposal)

	msg, err := r.receive(ctx, sess)
	if err != nil {
		return domain.SignedTransaction{}, err
	}
	if msg.Type != msgProposal {
		_ = r.reject(ctx, sess, Rejection{Kind: KindProtocol, Reason: fmt.Sprintf("Expected a proposal, got %q.", msg.Type)})
		return domain.SignedTransaction{}, fmt.Errorf("flow: unexpected %q before proposal: %w", msg.Type, domain.ErrSession)
	}

	enter(StateValidating)
	var p Proposal
	if err := msg.Decode(&p); err != nil {
		_ = r.reject(ctx, sess, Rejection{Kind: KindProtocol, Reason: "Malformed proposal."})
		return domain.SignedTransaction{}, fmt.Errorf("%w: %w", domain.ErrSession, err)
	}
	log = log.With(slog.String("tx_id", p.Transaction.ID.Hex()))

	if rej := r.validate(ctx, sess.Protocol(), initiator, p); rej != nil {
		enter(StateRejected)
		log.WarnContext(ctx, "flow: rejecting proposal",
			slog.String("kind", rej.Kind),
			slog.String("reason", rej.Reason),
		)
		if err := r.reject(ctx, sess, *rej); err != nil {
			return domain.SignedTransaction{}, err
		}
		return domain.SignedTransaction{}, &domain.RejectionError{Party: r.me.Name, Kind: rej.Kind, Reason: rej.Reason}
	}

	signed := p.Transaction
	sig, err := r.signer.SignTx(signed.ID)
	if err != nil {
		return domain.SignedTransaction{}, err
	}
	reply, err := domain.NewMessage(msgSignature, sig)
	if err != nil {
		return domain.SignedTransaction{}, err
	}
	if err := r.send(ctx, sess, reply); err != nil {
		return domain.SignedTransaction{}, err
	}
	enter(StateSigned)

	enter(StateAwaitingFinalization)
	for {
		msg, err := r.receive(ctx, sess)
		if err != nil {
			return domain.SignedTransaction{}, err
		}
		switch msg.Type {
		case msgProposal:
			log.WarnContext(ctx, "flow: second proposal on session refused")
			if err := r.reject(ctx, sess, Rejection{Kind: KindProtocol, Reason: ReasonAlreadyProposed}); err != nil {
				return domain.SignedTransaction{}, err
			}
		case msgFinality:
			var fin Finality
			if err := msg.Decode(&fin); err != nil {
				return domain.SignedTransaction{}, fmt.Errorf("%w: %w", domain.ErrSession, err)
			}
			final := fin.Transaction
			if err := r.checkFinal(signed, final); err != nil {
				log.WarnContext(ctx, "flow: bad finality", slog.String("error", err.Error()))
				return domain.SignedTransaction{}, err
			}
			if err := r.vault.Record(ctx, final); err != nil {
				return domain.SignedTransaction{}, err
			}
			enter(StateRecorded)
			if err := r.send(ctx, sess, domain.Message{Type: msgAck}); err != nil {
				log.WarnContext(ctx, "flow: ack not delivered", slog.String("error", err.Error()))
			}
			log.InfoContext(ctx, "flow: recorded", slog.String("state", string(state)))
			return final, nil
		default:
			return domain.SignedTransaction{}, fmt.Errorf("flow: unexpected %q while awaiting finality: %w", msg.Type, domain.ErrSession)
		}
	}
}

// validate applies every acceptance rule in order and returns the first
// rejection.
func (r *Responder) validate(ctx context.Context, protocol string, initiator domain.Party, p Proposal) *Rejection {
	stx := p.Transaction
	if stx.Tx.ID() != stx.ID {
		return &Rejection{Kind: KindInvalidTransaction, Reason: ReasonIDMismatch}
	}
	if stx.Tx.Notary.Address != r.notary.Address {
		return &Rejection{Kind: KindInvalidTransaction, Reason: ReasonUnknownNotary}
	}

	if len(p.Inputs) != len(stx.Tx.Inputs) {
		return &Rejection{Kind: KindUnverifiedInput, Reason: ReasonInputsMismatch}
	}
	for i, in := range p.Inputs {
		if in.Ref != stx.Tx.Inputs[i] {
			return &Rejection{Kind: KindUnverifiedInput, Reason: ReasonInputsMismatch}
		}
		if reason := r.verifyInput(ctx, in, p.Dependencies); reason != "" {
			return &Rejection{Kind: KindUnverifiedInput, Reason: reason}
		}
	}

	if !stx.SignedBy(initiator.Address) {
		return &Rejection{Kind: KindInvalidSignature, Reason: ReasonInitiatorUnsigned}
	}
	if err := crypto.VerifyTransaction(stx); err != nil {
		return &Rejection{Kind: KindInvalidSignature, Reason: err.Error()}
	}

	ltx, err := stx.Tx.Resolve(p.Inputs)
	if err != nil {
		return &Rejection{Kind: KindUnverifiedInput, Reason: err.Error()}
	}
	if err := contract.Verify(ltx); err != nil {
		var v *domain.Violation
		if errors.As(err, &v) {
			return &Rejection{Kind: string(v.Kind), Reason: v.Reason}
		}
		return &Rejection{Kind: string(domain.ViolationRule), Reason: err.Error()}
	}
	if check, ok := r.checks[protocol]; ok {
		if reason := check(ltx); reason != "" {
			return &Rejection{Kind: KindCheckFailed, Reason: reason}
		}
	}

	if !isRequired(stx.Tx.RequiredSigners(), r.me.Address) {
		return &Rejection{Kind: KindNotSigner, Reason: ReasonNotSigner}
	}
	return nil
}

// verifyInput confirms that in is an output of a fully signed, notarised
// transaction, taken from the vault when known and from deps otherwise. It
// returns the reason to reject, or "".
func (r *Responder) verifyInput(ctx context.Context, in domain.StateAndRef, deps []domain.SignedTransaction) string {
	producer, err := r.vault.Transaction(ctx, in.Ref.TxID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("Input %s could not be looked up.", in.Ref)
		}
		found := false
		for _, d := range deps {
			if d.ID == in.Ref.TxID {
				producer, found = d, true
				break
			}
		}
		if !found {
			return fmt.Sprintf("Input %s has no dependency transaction.", in.Ref)
		}
		required := append(producer.Tx.RequiredSigners(), producer.Tx.Notary.Address)
		if err := crypto.VerifyTransaction(producer, required...); err != nil {
			return fmt.Sprintf("Dependency %s is not fully signed and notarised.", producer.ID.Hex())
		}
	}

	if in.Ref.Index < 0 || in.Ref.Index >= len(producer.Tx.Outputs) {
		return fmt.Sprintf("Input %s points past the outputs of its transaction.", in.Ref)
	}
	if !producer.Tx.Outputs[in.Ref.Index].Equal(in.State) {
		return fmt.Sprintf("Input %s does not match the output it references.", in.Ref)
	}
	return ""
}

// checkFinal verifies the notarised transaction is the one we signed and
// carries every required signature plus the notary's.
func (r *Responder) checkFinal(signed, final domain.SignedTransaction) error {
	if final.ID != signed.ID {
		return fmt.Errorf("flow: finality for %s, signed %s: %w", final.ID.Hex(), signed.ID.Hex(), domain.ErrInvalidSignature)
	}
	required := append(final.Tx.RequiredSigners(), r.notary.Address)
	return crypto.VerifyTransaction(final, required...)
}

func (r *Responder) reject(ctx context.Context, sess domain.Session, rej Rejection) error {
	msg, err := domain.NewMessage(msgReject, rej)
	if err != nil {
		return err
	}
	return r.send(ctx, sess, msg)
}

func (r *Responder) send(ctx context.Context, sess domain.Session, msg domain.Message) error {
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := sess.Send(sctx, msg); err != nil {
		return sessionErr(err)
	}
	return nil
}

func (r *Responder) receive(ctx context.Context, sess domain.Session) (domain.Message, error) {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	msg, err := sess.Receive(rctx)
	if err != nil {
		return domain.Message{}, sessionErr(err)
	}
	return msg, nil
}

func isRequired(signers []common.Address, addr common.Address) bool {
	for _, s := range signers {
		if s == addr {
			return true
		}
	}
	return false
}
