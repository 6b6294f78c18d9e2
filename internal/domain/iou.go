package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// IOU is one version of a debt owed by Borrower to Lender. Every version of
// the same debt shares LinearID.
type IOU struct {
	Amount   Amount `json:"amount"`
	Lender   Party  `json:"lender"`
	Borrower Party  `json:"borrower"`
	Paid     Amount `json:"paid"`
	LinearID string `json:"linear_id"`
}

// NewIOU creates the first version of a debt with nothing paid and a fresh
// linear id.
func NewIOU(amount Amount, lender, borrower Party) IOU {
	return IOU{
		Amount:   amount,
		Lender:   lender,
		Borrower: borrower,
		Paid:     Zero(amount.Currency),
		LinearID: uuid.NewString(),
	}
}

// Participants returns the lender and the borrower.
func (i IOU) Participants() []Party {
	return []Party{i.Lender, i.Borrower}
}

// Outstanding returns the amount still owed.
func (i IOU) Outstanding() (Amount, error) {
	return i.Amount.Sub(i.Paid)
}

// Pay returns the next version with amt added to Paid.
func (i IOU) Pay(amt Amount) (IOU, error) {
	paid, err := i.Paid.Add(amt)
	if err != nil {
		return IOU{}, err
	}
	next := i
	next.Paid = paid
	return next, nil
}

// WithNewLender returns the next version owed to lender.
func (i IOU) WithNewLender(lender Party) IOU {
	next := i
	next.Lender = lender
	return next
}

func (i IOU) String() string {
	return fmt.Sprintf("IOU(%s): %s owes %s %s and has paid %s so far.",
		i.LinearID, i.Borrower, i.Lender, i.Amount, i.Paid)
}
