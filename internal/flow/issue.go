package flow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Authorization messages returned before any transaction is built.
const (
	ErrTextIssueInitiator    = "IOU issuance must be initiated by the lender or the borrower."
	ErrTextTransferInitiator = "IOU transfer can only be initiated by the IOU lender."
	ErrTextSettleInitiator   = "IOU settlement flow must be initiated by the borrower."
)

// Issue creates a new IOU of amount owed by borrower to lender. This node
// must be one of the two.
func (in *Initiator) Issue(ctx context.Context, amount domain.Amount, lender, borrower domain.Party) (domain.SignedTransaction, error) {
	return in.Run(ctx, ProtocolIssue, func(context.Context) (Draft, error) {
		if in.me.Address != lender.Address && in.me.Address != borrower.Address {
			return Draft{}, fmt.Errorf("flow: %w: %s", domain.ErrAuthorization, ErrTextIssueInitiator)
		}
		iou := domain.NewIOU(amount, lender, borrower)
		return Draft{Tx: domain.WireTransaction{
			Outputs: []domain.State{domain.IOUState(iou)},
			Commands: []domain.Command{{
				Type:    domain.CommandIssue,
				Signers: domain.Addresses(lender, borrower),
			}},
			Notary:      in.notaryID,
			PrivacySalt: uuid.NewString(),
		}}, nil
	})
}

// lookupIOU returns the unconsumed head of the linearID chain among the IOUs
// this node is a party to.
func (in *Initiator) lookupIOU(ctx context.Context, linearID string) (domain.StateAndRef, error) {
	found, err := in.vault.Query(ctx, domain.Criteria{
		Kind:        domain.KindIOU,
		LinearID:    linearID,
		Participant: in.me.Address,
	})
	if err != nil {
		return domain.StateAndRef{}, fmt.Errorf("flow: query IOU %s: %w", linearID, err)
	}
	if len(found) == 0 {
		return domain.StateAndRef{}, fmt.Errorf("flow: IOU %s: %w", linearID, domain.ErrLookupNotFound)
	}
	return found[0], nil
}
