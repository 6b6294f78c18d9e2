package contract

import (
	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Requirement texts reported by the IOU contract.
const (
	ReasonSingleIOUCommand = "A single IOU command is required."
	ReasonUnknownIOUCmd    = "Unrecognised IOU command."

	ReasonIssueNoInputs        = "No inputs should be consumed when issuing an IOU."
	ReasonIssueOneOutput       = "Only one output state should be created when issuing an IOU."
	ReasonIssuePositiveAmount  = "A newly issued IOU must have a positive amount."
	ReasonIssueNothingPaid     = "A newly issued IOU must have nothing paid."
	ReasonIssueDistinctParties = "The lender and borrower cannot have the same identity."
	ReasonIssueSigners         = "Both lender and borrower together only may sign IOU issue transaction."

	ReasonTransferOneInput    = "An IOU transfer transaction should only consume one input state."
	ReasonTransferOneOutput   = "An IOU transfer transaction should only create one output state."
	ReasonTransferOnlyLender  = "Only the lender property may change."
	ReasonTransferLenderMoves = "The lender property must change in a transfer."
	ReasonTransferSigners     = "The borrower, old lender and new lender only must sign an IOU transfer transaction"

	ReasonSettleOneChain      = "There must be one group of IOUs."
	ReasonSettleOneInput      = "There must be one input IOU."
	ReasonSettleOutputCash    = "There must be output cash."
	ReasonSettleCashToLender  = "There must be output cash paid to the recipient."
	ReasonSettleOverpaid      = "The amount settled cannot be more than the amount outstanding."
	ReasonSettleFullyRetired  = "There must be no output IOU as it has been fully settled."
	ReasonSettleOneOutput     = "There must be one output IOU."
	ReasonSettleAmountFixed   = "The amount may not change when settling."
	ReasonSettleBorrowerFixed = "The borrower may not change when settling."
	ReasonSettleLenderFixed   = "The lender may not change when settling."
	ReasonSettlePaidIncrease  = "The paid amount must increase by the amount settled."
	ReasonSettleSigners       = "Both lender and borrower together only must sign IOU settle transaction."
)

// VerifyIOU checks the IOU command of ltx. Transactions with no IOU states and
// no IOU command pass untouched.
func VerifyIOU(ltx domain.LedgerTransaction) error {
	cmds := ltx.CommandsFor(iouContract)
	if len(cmds) == 0 && len(ltx.InputIOUs()) == 0 && len(ltx.OutputIOUs()) == 0 {
		return nil
	}
	if len(cmds) != 1 {
		return unrecognized(iouContract, ReasonSingleIOUCommand)
	}

	cmd := cmds[0]
	switch cmd.Type {
	case domain.CommandIssue:
		return verifyIssue(ltx, cmd)
	case domain.CommandTransfer:
		return verifyTransfer(ltx, cmd)
	case domain.CommandSettle:
		return verifySettle(ltx, cmd)
	default:
		return unrecognized(iouContract, ReasonUnknownIOUCmd)
	}
}

func verifyIssue(ltx domain.LedgerTransaction, cmd domain.Command) error {
	if len(ltx.InputIOUs()) != 0 {
		return violation(iouContract, ReasonIssueNoInputs)
	}
	outs := ltx.OutputIOUs()
	if len(outs) != 1 {
		return violation(iouContract, ReasonIssueOneOutput)
	}
	out := outs[0]
	if !out.Amount.IsPositive() {
		return violation(iouContract, ReasonIssuePositiveAmount)
	}
	if out.Paid.Currency != out.Amount.Currency {
		return amountViolation(iouContract, &domain.CurrencyMismatchError{Left: out.Amount.Currency, Right: out.Paid.Currency})
	}
	if !out.Paid.IsZero() {
		return violation(iouContract, ReasonIssueNothingPaid)
	}
	if out.Lender.Address == out.Borrower.Address {
		return violation(iouContract, ReasonIssueDistinctParties)
	}
	if !sameSigners(cmd.Signers, out.Lender.Address, out.Borrower.Address) {
		return violation(iouContract, ReasonIssueSigners)
	}
	return nil
}

func verifyTransfer(ltx domain.LedgerTransaction, cmd domain.Command) error {
	ins, outs := ltx.InputIOUs(), ltx.OutputIOUs()
	if len(ins) != 1 {
		return violation(iouContract, ReasonTransferOneInput)
	}
	if len(outs) != 1 {
		return violation(iouContract, ReasonTransferOneOutput)
	}
	in, out := ins[0], outs[0]
	if in.WithNewLender(out.Lender) != out {
		return violation(iouContract, ReasonTransferOnlyLender)
	}
	if out.Lender.Address == in.Lender.Address {
		return violation(iouContract, ReasonTransferLenderMoves)
	}
	if !sameSigners(cmd.Signers, in.Borrower.Address, in.Lender.Address, out.Lender.Address) {
		return violation(iouContract, ReasonTransferSigners)
	}
	return nil
}

// chain is every IOU version in a transaction that shares one linear id.
type chain struct {
	inputs  []domain.IOU
	outputs []domain.IOU
}

func groupByLinearID(ltx domain.LedgerTransaction) map[string]*chain {
	groups := make(map[string]*chain)
	get := func(id string) *chain {
		g, ok := groups[id]
		if !ok {
			g = &chain{}
			groups[id] = g
		}
		return g
	}
	for _, in := range ltx.InputIOUs() {
		g := get(in.LinearID)
		g.inputs = append(g.inputs, in)
	}
	for _, out := range ltx.OutputIOUs() {
		g := get(out.LinearID)
		g.outputs = append(g.outputs, out)
	}
	return groups
}

func verifySettle(ltx domain.LedgerTransaction, cmd domain.Command) error {
	groups := groupByLinearID(ltx)
	if len(groups) > 1 {
		return violation(iouContract, ReasonSettleOneChain)
	}
	var g *chain
	for _, c := range groups {
		g = c
	}
	if g == nil || len(g.inputs) != 1 {
		return violation(iouContract, ReasonSettleOneInput)
	}
	in := g.inputs[0]

	cash := ltx.OutputCash()
	if len(cash) == 0 {
		return violation(iouContract, ReasonSettleOutputCash)
	}
	var acceptable []domain.Amount
	for _, c := range cash {
		if c.Owner.Address == in.Lender.Address {
			acceptable = append(acceptable, c.Amount)
		}
	}
	if len(acceptable) == 0 {
		return violation(iouContract, ReasonSettleCashToLender)
	}

	settled, err := domain.Sum(in.Amount.Currency, acceptable...)
	if err != nil {
		return amountViolation(iouContract, err)
	}
	outstanding, err := in.Outstanding()
	if err != nil {
		return amountViolation(iouContract, err)
	}
	cmp, err := settled.Cmp(outstanding)
	if err != nil {
		return amountViolation(iouContract, err)
	}
	if cmp > 0 {
		return violation(iouContract, ReasonSettleOverpaid)
	}

	if cmp == 0 {
		if len(g.outputs) != 0 {
			return violation(iouContract, ReasonSettleFullyRetired)
		}
	} else {
		if len(g.outputs) != 1 {
			return violation(iouContract, ReasonSettleOneOutput)
		}
		out := g.outputs[0]
		if out.Amount != in.Amount {
			return violation(iouContract, ReasonSettleAmountFixed)
		}
		if out.Borrower != in.Borrower {
			return violation(iouContract, ReasonSettleBorrowerFixed)
		}
		if out.Lender != in.Lender {
			return violation(iouContract, ReasonSettleLenderFixed)
		}
		paid, err := in.Paid.Add(settled)
		if err != nil {
			return amountViolation(iouContract, err)
		}
		if out.Paid != paid {
			return violation(iouContract, ReasonSettlePaidIncrease)
		}
	}

	if !sameSigners(cmd.Signers, domain.Addresses(in.Participants()...)...) {
		return violation(iouContract, ReasonSettleSigners)
	}
	return nil
}
