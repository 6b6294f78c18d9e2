package contract

import (
	"maps"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Requirement texts reported by the cash contract.
const (
	ReasonSingleCashCommand = "A single cash command is required."
	ReasonUnknownCashCmd    = "Unrecognised cash command."

	ReasonCashIssueNoInputs = "No cash inputs may be consumed when issuing cash."
	ReasonCashIssueOutputs  = "Issuing cash must create at least one output."
	ReasonCashPositive      = "Cash outputs must have a positive amount."
	ReasonCashIssuerSigns   = "The issuer must sign a cash issuance."
	ReasonCashMoveInputs    = "A cash move must consume at least one input."
	ReasonCashConserved     = "Cash must be conserved for each issuer and currency."
	ReasonCashOwnersSign    = "Every owner of input cash must sign a cash move."
)

// VerifyCash checks the cash command of ltx. Transactions with no cash states
// and no cash command pass untouched.
func VerifyCash(ltx domain.LedgerTransaction) error {
	cmds := ltx.CommandsFor(cashContract)
	ins, outs := ltx.InputCash(), ltx.OutputCash()
	if len(cmds) == 0 && len(ins) == 0 && len(outs) == 0 {
		return nil
	}
	if len(cmds) != 1 {
		return unrecognized(cashContract, ReasonSingleCashCommand)
	}

	cmd := cmds[0]
	switch cmd.Type {
	case domain.CommandCashIssue:
		if len(ins) != 0 {
			return violation(cashContract, ReasonCashIssueNoInputs)
		}
		if len(outs) == 0 {
			return violation(cashContract, ReasonCashIssueOutputs)
		}
		if !allPositive(outs) {
			return violation(cashContract, ReasonCashPositive)
		}
		issuers := make([]common.Address, 0, len(outs))
		for _, c := range outs {
			issuers = append(issuers, c.Issuer.Address)
		}
		if !coversSigners(cmd.Signers, issuers...) {
			return violation(cashContract, ReasonCashIssuerSigns)
		}
		return nil

	case domain.CommandCashMove:
		if len(ins) == 0 {
			return violation(cashContract, ReasonCashMoveInputs)
		}
		if !allPositive(outs) {
			return violation(cashContract, ReasonCashPositive)
		}
		ok, err := conserved(ins, outs)
		if err != nil {
			return amountViolation(cashContract, err)
		}
		if !ok {
			return violation(cashContract, ReasonCashConserved)
		}
		owners := make([]common.Address, 0, len(ins))
		for _, c := range ins {
			owners = append(owners, c.Owner.Address)
		}
		if !coversSigners(cmd.Signers, owners...) {
			return violation(cashContract, ReasonCashOwnersSign)
		}
		return nil

	default:
		return unrecognized(cashContract, ReasonUnknownCashCmd)
	}
}

func allPositive(cash []domain.Cash) bool {
	for _, c := range cash {
		if !c.Amount.IsPositive() {
			return false
		}
	}
	return true
}

type issuedCurrency struct {
	issuer   common.Address
	currency string
}

// conserved reports whether inputs and outputs carry the same total per
// issuer and currency. A total that overflows is an error.
func conserved(ins, outs []domain.Cash) (bool, error) {
	in, err := totals(ins)
	if err != nil {
		return false, err
	}
	out, err := totals(outs)
	if err != nil {
		return false, err
	}
	return maps.Equal(in, out), nil
}

func totals(cash []domain.Cash) (map[issuedCurrency]domain.Amount, error) {
	sums := make(map[issuedCurrency]domain.Amount, len(cash))
	for _, c := range cash {
		k := issuedCurrency{c.Issuer.Address, c.Amount.Currency}
		cur, ok := sums[k]
		if !ok {
			cur = domain.Amount{Currency: c.Amount.Currency}
		}
		next, err := cur.Add(c.Amount)
		if err != nil {
			return nil, err
		}
		sums[k] = next
	}
	return sums, nil
}
