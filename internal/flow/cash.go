package flow

import (
	"context"

	"github.com/google/uuid"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// SelfIssueCash issues amount of cash owned and issued by this node. It has
// no counterparties and goes straight to the notary.
func (in *Initiator) SelfIssueCash(ctx context.Context, amount domain.Amount) (domain.SignedTransaction, error) {
	return in.Run(ctx, ProtocolCash, func(context.Context) (Draft, error) {
		cash := domain.Cash{Issuer: in.me, Owner: in.me, Amount: amount}
		return Draft{Tx: domain.WireTransaction{
			Outputs: []domain.State{domain.CashState(cash)},
			Commands: []domain.Command{{
				Type:    domain.CommandCashIssue,
				Signers: domain.Addresses(in.me),
			}},
			Notary:      in.notaryID,
			PrivacySalt: uuid.NewString(),
		}}, nil
	})
}

// CashBalances sums the unconsumed cash this node owns, per currency.
func CashBalances(ctx context.Context, vault domain.Vault, owner domain.Party) (map[string]domain.Amount, error) {
	states, err := vault.Query(ctx, domain.Criteria{Kind: domain.KindCash, Owner: owner.Address})
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Amount)
	for _, s := range states {
		amt := s.State.Cash.Amount
		cur, ok := out[amt.Currency]
		if !ok {
			cur = domain.Zero(amt.Currency)
		}
		sum, err := cur.Add(amt)
		if err != nil {
			return nil, err
		}
		out[amt.Currency] = sum
	}
	return out, nil
}
