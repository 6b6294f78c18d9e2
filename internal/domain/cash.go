package domain

import "fmt"

// Cash is a claim on Issuer for Amount, held by Owner. It is the asset used
// to pay down an IOU.
type Cash struct {
	Issuer Party  `json:"issuer"`
	Owner  Party  `json:"owner"`
	Amount Amount `json:"amount"`
}

// Participants returns the owner.
func (c Cash) Participants() []Party {
	return []Party{c.Owner}
}

// WithNewOwner returns the same claim held by owner.
func (c Cash) WithNewOwner(owner Party) Cash {
	next := c
	next.Owner = owner
	return next
}

// WithAmount returns the same claim for a different amount.
func (c Cash) WithAmount(amount Amount) Cash {
	next := c
	next.Amount = amount
	return next
}

func (c Cash) String() string {
	return fmt.Sprintf("Cash(%s issued by %s, owned by %s)", c.Amount, c.Issuer, c.Owner)
}
