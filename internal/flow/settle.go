package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Settle pays amount of the IOU identified by linearID to its lender from
// this node's cash. Only the borrower may settle.
func (in *Initiator) Settle(ctx context.Context, linearID string, amount domain.Amount) (domain.SignedTransaction, error) {
	return in.Run(ctx, ProtocolSettle, func(ctx context.Context) (Draft, error) {
		head, err := in.lookupIOU(ctx, linearID)
		if err != nil {
			return Draft{}, err
		}
		iou := *head.State.IOU
		if iou.Borrower.Address != in.me.Address {
			return Draft{}, fmt.Errorf("flow: %w: %s", domain.ErrAuthorization, ErrTextSettleInitiator)
		}
		if !amount.IsPositive() {
			return Draft{}, fmt.Errorf("flow: settlement amount %s must be positive: %w", amount, domain.ErrValidation)
		}

		coins, release, err := in.selectCash(ctx, amount)
		if err != nil {
			return Draft{}, err
		}

		tx := domain.WireTransaction{
			Inputs:      []domain.StateRef{head.Ref},
			Notary:      in.notaryID,
			PrivacySalt: uuid.NewString(),
		}
		inputs := []domain.StateAndRef{head}

		remaining := amount
		for _, c := range coins {
			tx.Inputs = append(tx.Inputs, c.Ref)
			inputs = append(inputs, c)

			cash := *c.State.Cash
			pay := cash.Amount
			if cmp, _ := pay.Cmp(remaining); cmp > 0 {
				pay = remaining
			}
			tx.Outputs = append(tx.Outputs, domain.CashState(domain.Cash{
				Issuer: cash.Issuer, Owner: iou.Lender, Amount: pay,
			}))
			if change, _ := cash.Amount.Sub(pay); change.IsPositive() {
				tx.Outputs = append(tx.Outputs, domain.CashState(domain.Cash{
					Issuer: cash.Issuer, Owner: in.me, Amount: change,
				}))
			}
			remaining, _ = remaining.Sub(pay)
		}

		// A currency mismatch here is left for the contract to report.
		if paid, err := iou.Pay(amount); err == nil {
			if left, err := paid.Outstanding(); err == nil && left.IsPositive() {
				tx.Outputs = append(tx.Outputs, domain.IOUState(paid))
			}
		}

		tx.Commands = []domain.Command{
			{Type: domain.CommandSettle, Signers: domain.Addresses(iou.Lender, iou.Borrower)},
			{Type: domain.CommandCashMove, Signers: domain.Addresses(in.me)},
		}
		return Draft{Tx: tx, Inputs: inputs, Release: release}, nil
	})
}

// selectCash picks unreserved cash owned by this node, oldest first, until
// need is covered, and reserves each pick. The returned release frees the
// reservations.
func (in *Initiator) selectCash(ctx context.Context, need domain.Amount) ([]domain.StateAndRef, func(), error) {
	owned, err := in.vault.Query(ctx, domain.Criteria{
		Kind:     domain.KindCash,
		Owner:    in.me.Address,
		Currency: need.Currency,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("flow: query cash: %w", err)
	}
	if len(owned) == 0 {
		return nil, nil, fmt.Errorf("flow: %w: Borrower has no %s to settle.", domain.ErrInsufficientFunds, need.Currency)
	}

	balance := domain.Zero(need.Currency)
	for _, c := range owned {
		balance, _ = balance.Add(c.State.Cash.Amount)
	}
	if cmp, _ := balance.Cmp(need); cmp < 0 {
		return nil, nil, fmt.Errorf("flow: %w: Borrower has only %s but needs %s to settle.", domain.ErrInsufficientFunds, balance, need)
	}

	var (
		picked  []domain.StateAndRef
		unlocks []func()
	)
	gathered := domain.Zero(need.Currency)
	release := func() {
		for _, u := range unlocks {
			u()
		}
	}
	for _, c := range owned {
		if cmp, _ := gathered.Cmp(need); cmp >= 0 {
			break
		}
		if in.locks != nil {
			unlock, err := in.locks.Acquire(ctx, "cash:"+c.Ref.String(), in.cashLockTTL)
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("flow: reserve cash %s: %w", c.Ref, err)
			}
			unlocks = append(unlocks, unlock)
		}
		picked = append(picked, c)
		gathered, _ = gathered.Add(c.State.Cash.Amount)
	}

	if cmp, _ := gathered.Cmp(need); cmp < 0 {
		release()
		return nil, nil, fmt.Errorf("flow: %w: Borrower has only %s unreserved but needs %s to settle.",
			domain.ErrInsufficientFunds, gathered, need)
	}
	return picked, release, nil
}
