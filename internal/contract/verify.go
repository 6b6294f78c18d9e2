// Package contract holds the pure verification rules that decide whether a
// transaction is a legal transformation of IOU and cash states.
package contract

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

const (
	iouContract  = "iou"
	cashContract = "cash"

	// txScope names checks that hold for every transaction.
	txScope = "transaction"
)

// Requirement texts shared by every contract.
const (
	ReasonMissingCommand = "A transaction must carry at least one command."
	ReasonMalformedState = "Every state must hold exactly one record."
	ReasonAmountOverflow = "Amounts must stay within the representable range."
)

// Verify runs every contract over ltx and returns the first violation. It has
// no side effects, so repeated calls on the same transaction agree.
func Verify(ltx domain.LedgerTransaction) error {
	if len(ltx.Commands) == 0 {
		return unrecognized(txScope, ReasonMissingCommand)
	}
	for _, in := range ltx.Inputs {
		if !in.State.WellFormed() {
			return violation(txScope, ReasonMalformedState)
		}
	}
	for _, out := range ltx.Outputs {
		if !out.WellFormed() {
			return violation(txScope, ReasonMalformedState)
		}
	}
	for _, c := range ltx.Commands {
		switch c.Type.Contract() {
		case iouContract, cashContract:
		default:
			return unrecognized(c.Type.Contract(), fmt.Sprintf("Unrecognised command %q.", c.Type))
		}
	}
	if err := VerifyIOU(ltx); err != nil {
		return err
	}
	return VerifyCash(ltx)
}

func violation(contract, reason string) error {
	return &domain.Violation{Kind: domain.ViolationRule, Contract: contract, Reason: reason}
}

func unrecognized(contract, reason string) error {
	return &domain.Violation{Kind: domain.ViolationUnrecognizedCommand, Contract: contract, Reason: reason}
}

// amountViolation turns an arithmetic error into a violation: a currency
// mismatch keeps its own kind, an overflow is a rule failure.
func amountViolation(contract string, err error) error {
	var mismatch *domain.CurrencyMismatchError
	switch {
	case errors.As(err, &mismatch):
		return &domain.Violation{Kind: domain.ViolationCurrencyMismatch, Contract: contract, Reason: mismatch.Error()}
	case errors.Is(err, domain.ErrAmountOverflow):
		return violation(contract, ReasonAmountOverflow)
	}
	return violation(contract, err.Error())
}

// sameSigners reports whether got and want hold the same set of addresses.
func sameSigners(got []common.Address, want ...common.Address) bool {
	g := make(map[common.Address]bool, len(got))
	for _, a := range got {
		g[a] = true
	}
	w := make(map[common.Address]bool, len(want))
	for _, a := range want {
		w[a] = true
	}
	if len(g) != len(w) {
		return false
	}
	for a := range w {
		if !g[a] {
			return false
		}
	}
	return true
}

// coversSigners reports whether every address in want appears in got.
func coversSigners(got []common.Address, want ...common.Address) bool {
	g := make(map[common.Address]bool, len(got))
	for _, a := range got {
		g[a] = true
	}
	for _, a := range want {
		if !g[a] {
			return false
		}
	}
	return true
}
