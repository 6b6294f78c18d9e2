package flow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Transfer moves the IOU identified by linearID to newLender. Only the
// current lender may transfer it.
func (in *Initiator) Transfer(ctx context.Context, linearID string, newLender domain.Party) (domain.SignedTransaction, error) {
	return in.Run(ctx, ProtocolTransfer, func(ctx context.Context) (Draft, error) {
		return in.transferDraft(ctx, linearID, newLender)
	})
}

func (in *Initiator) transferDraft(ctx context.Context, linearID string, newLender domain.Party) (Draft, error) {
	head, err := in.lookupIOU(ctx, linearID)
	if err != nil {
		return Draft{}, err
	}
	iou := *head.State.IOU
	if iou.Lender.Address != in.me.Address {
		return Draft{}, fmt.Errorf("flow: %w: %s", domain.ErrAuthorization, ErrTextTransferInitiator)
	}

	return Draft{
		Tx: domain.WireTransaction{
			Inputs:  []domain.StateRef{head.Ref},
			Outputs: []domain.State{domain.IOUState(iou.WithNewLender(newLender))},
			Commands: []domain.Command{{
				Type:    domain.CommandTransfer,
				Signers: domain.Addresses(iou.Borrower, iou.Lender, newLender),
			}},
			Notary:      in.notaryID,
			PrivacySalt: uuid.NewString(),
		},
		Inputs: []domain.StateAndRef{head},
	}, nil
}
