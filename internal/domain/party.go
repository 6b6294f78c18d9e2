package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Party is a ledger participant: a legal name plus the address derived from
// the secp256k1 key it signs with.
type Party struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

// String returns the party's legal name.
func (p Party) String() string {
	return p.Name
}

// IsZero reports whether p is the zero Party.
func (p Party) IsZero() bool {
	return p.Name == "" && p.Address == (common.Address{})
}

// Addresses maps parties to their signing addresses, preserving order.
func Addresses(parties ...Party) []common.Address {
	out := make([]common.Address, 0, len(parties))
	for _, p := range parties {
		out = append(out, p.Address)
	}
	return out
}
