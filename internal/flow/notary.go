package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// NotaryClient implements domain.Notary by opening a notary.request session
// with a remote notary.
type NotaryClient struct {
	transport domain.Transport
	notary    domain.Party
	timeout   time.Duration
}

// NewNotaryClient creates a client for the notary reachable over transport.
func NewNotaryClient(transport domain.Transport, notary domain.Party, timeout time.Duration) *NotaryClient {
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}
	return &NotaryClient{transport: transport, notary: notary, timeout: timeout}
}

// Notarise sends stx to the notary and returns its signature. A reported
// conflict is returned as *domain.ConflictError; every other failure matches
// domain.ErrNotarizationFailed.
func (c *NotaryClient) Notarise(ctx context.Context, stx domain.SignedTransaction) (domain.Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fail := func(err error) (domain.Signature, error) {
		return domain.Signature{}, fmt.Errorf("flow: notary %s: %w: %w", c.notary.Name, domain.ErrNotarizationFailed, err)
	}

	sess, err := c.transport.Open(ctx, c.notary, ProtocolNotary)
	if err != nil {
		return fail(err)
	}
	defer sess.Close()

	req, err := domain.NewMessage(msgNotarise, notariseRequest{Transaction: stx})
	if err != nil {
		return fail(err)
	}
	if err := sess.Send(ctx, req); err != nil {
		return fail(err)
	}
	reply, err := sess.Receive(ctx)
	if err != nil {
		return fail(err)
	}

	switch reply.Type {
	case msgNotarised:
		var sig domain.Signature
		if err := reply.Decode(&sig); err != nil {
			return fail(err)
		}
		return sig, nil
	case msgConflict:
		var cr conflictReply
		if err := reply.Decode(&cr); err != nil {
			return fail(err)
		}
		return domain.Signature{}, &domain.ConflictError{Ref: cr.Ref, ConsumedBy: cr.ConsumedBy}
	case msgError:
		var er errorReply
		if err := reply.Decode(&er); err != nil {
			return fail(err)
		}
		return fail(errors.New(er.Reason))
	default:
		return fail(fmt.Errorf("unexpected %q reply", reply.Type))
	}
}

// NotaryResponder serves notary.request sessions from a local notary.
type NotaryResponder struct {
	notary  domain.Notary
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotaryResponder wraps notary for serving over a transport.
func NewNotaryResponder(notary domain.Notary, logger *slog.Logger) *NotaryResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotaryResponder{
		notary:  notary,
		timeout: defaultSessionTimeout,
		logger:  logger.With(slog.String("component", "notary_responder")),
	}
}

// Handle answers a single notarisation request on sess.
func (r *NotaryResponder) Handle(ctx context.Context, sess domain.Session) (domain.SignedTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg, err := sess.Receive(ctx)
	if err != nil {
		return domain.SignedTransaction{}, sessionErr(err)
	}
	if msg.Type != msgNotarise {
		return domain.SignedTransaction{}, r.replyError(ctx, sess, fmt.Errorf("expected %q, got %q", msgNotarise, msg.Type))
	}
	var req notariseRequest
	if err := msg.Decode(&req); err != nil {
		return domain.SignedTransaction{}, r.replyError(ctx, sess, err)
	}

	sig, err := r.notary.Notarise(ctx, req.Transaction)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			reply, encErr := domain.NewMessage(msgConflict, conflictReply{Ref: conflict.Ref, ConsumedBy: conflict.ConsumedBy})
			if encErr != nil {
				return domain.SignedTransaction{}, encErr
			}
			if sendErr := sess.Send(ctx, reply); sendErr != nil {
				return domain.SignedTransaction{}, sessionErr(sendErr)
			}
			return domain.SignedTransaction{}, err
		}
		return domain.SignedTransaction{}, r.replyError(ctx, sess, err)
	}

	reply, err := domain.NewMessage(msgNotarised, sig)
	if err != nil {
		return domain.SignedTransaction{}, err
	}
	if err := sess.Send(ctx, reply); err != nil {
		return domain.SignedTransaction{}, sessionErr(err)
	}
	r.logger.InfoContext(ctx, "flow: notarised",
		slog.String("tx_id", req.Transaction.ID.Hex()),
		slog.String("requester", sess.Counterparty().Name),
	)
	return req.Transaction.WithSignature(sig), nil
}

// replyError reports cause to the requester and returns it.
func (r *NotaryResponder) replyError(ctx context.Context, sess domain.Session, cause error) error {
	reply, err := domain.NewMessage(msgError, errorReply{Reason: cause.Error()})
	if err == nil {
		_ = sess.Send(ctx, reply)
	}
	return cause
}

// Compile-time interface check.
var _ domain.Notary = (*NotaryClient)(nil)
