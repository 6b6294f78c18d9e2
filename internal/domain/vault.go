package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Criteria filters unconsumed states in a vault. Zero-valued fields match
// everything.
type Criteria struct {
	Kind        StateKind
	LinearID    string
	Participant common.Address
	Owner       common.Address
	Currency    string
}

// Matches reports whether s satisfies every set field of c.
func (c Criteria) Matches(s State) bool {
	if c.Kind != "" && s.Kind() != c.Kind {
		return false
	}
	if c.LinearID != "" && (s.IOU == nil || s.IOU.LinearID != c.LinearID) {
		return false
	}
	if c.Owner != (common.Address{}) && (s.Cash == nil || s.Cash.Owner.Address != c.Owner) {
		return false
	}
	if c.Currency != "" && StateCurrency(s) != c.Currency {
		return false
	}
	if c.Participant != (common.Address{}) {
		found := false
		for _, p := range s.Participants() {
			if p.Address == c.Participant {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// StateCurrency returns the currency a state is denominated in.
func StateCurrency(s State) string {
	switch {
	case s.IOU != nil:
		return s.IOU.Amount.Currency
	case s.Cash != nil:
		return s.Cash.Amount.Currency
	default:
		return ""
	}
}

// Vault is a node's record of committed transactions and the states they
// produced.
type Vault interface {
	// Query returns unconsumed states matching c in commit order.
	Query(ctx context.Context, c Criteria) ([]StateAndRef, error)
	// Record stores a committed transaction, consuming its inputs and adding
	// its outputs. Recording the same transaction twice is a no-op.
	Record(ctx context.Context, stx SignedTransaction) error
	// Transaction returns a recorded transaction or ErrNotFound.
	Transaction(ctx context.Context, id TxID) (SignedTransaction, error)
}
