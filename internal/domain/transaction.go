package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TxID is the keccak256 hash of a transaction's canonical encoding.
type TxID = common.Hash

// CommandType is the declared intent of a transaction.
type CommandType string

const (
	CommandIssue     CommandType = "iou.issue"
	CommandTransfer  CommandType = "iou.transfer"
	CommandSettle    CommandType = "iou.settle"
	CommandCashIssue CommandType = "cash.issue"
	CommandCashMove  CommandType = "cash.move"
)

// Contract returns the prefix that routes the command to a contract ("iou",
// "cash").
func (t CommandType) Contract() string {
	contract, _, _ := strings.Cut(string(t), ".")
	return contract
}

// Command pairs an intent with the addresses that must sign for it.
type Command struct {
	Type    CommandType      `json:"type"`
	Signers []common.Address `json:"signers"`
}

// WireTransaction is the unsigned, unresolved body of a transaction. Its ID
// covers every field, so any change produces a different transaction.
type WireTransaction struct {
	Inputs   []StateRef `json:"inputs"`
	Outputs  []State    `json:"outputs"`
	Commands []Command  `json:"commands"`
	Notary   Party      `json:"notary"`
	// PrivacySalt keeps otherwise identical transactions distinct.
	PrivacySalt string `json:"privacy_salt"`
}

// ID hashes the canonical JSON encoding of the transaction.
func (w WireTransaction) ID() TxID {
	// Plain value structs always marshal.
	data, _ := json.Marshal(w)
	return ethcrypto.Keccak256Hash(data)
}

// OutRef returns the reference to output i once the transaction commits.
func (w WireTransaction) OutRef(i int) StateRef {
	return StateRef{TxID: w.ID(), Index: i}
}

// RequiredSigners is the union of every command's signers, in first-seen
// order.
func (w WireTransaction) RequiredSigners() []common.Address {
	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, c := range w.Commands {
		for _, s := range c.Signers {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Resolve attaches the input states to the transaction. inputs must match
// w.Inputs one to one and in order.
func (w WireTransaction) Resolve(inputs []StateAndRef) (LedgerTransaction, error) {
	if len(inputs) != len(w.Inputs) {
		return LedgerTransaction{}, fmt.Errorf("domain: resolve: %d inputs referenced, %d supplied: %w",
			len(w.Inputs), len(inputs), ErrLookupNotFound)
	}
	for i, ref := range w.Inputs {
		if inputs[i].Ref != ref {
			return LedgerTransaction{}, fmt.Errorf("domain: resolve: input %d is %s, supplied %s: %w",
				i, ref, inputs[i].Ref, ErrLookupNotFound)
		}
	}
	return LedgerTransaction{
		ID:       w.ID(),
		Inputs:   inputs,
		Outputs:  w.Outputs,
		Commands: w.Commands,
		Notary:   w.Notary,
	}, nil
}

// Signature is a recoverable secp256k1 signature over a transaction id.
type Signature struct {
	By    common.Address `json:"by"`
	Bytes hexutil.Bytes  `json:"bytes"`
}

// SignedTransaction is a wire transaction plus the signatures collected so
// far. ID must equal Tx.ID().
type SignedTransaction struct {
	ID         TxID            `json:"id"`
	Tx         WireTransaction `json:"tx"`
	Signatures []Signature     `json:"signatures"`
}

// NewSignedTransaction wraps tx with no signatures.
func NewSignedTransaction(tx WireTransaction) SignedTransaction {
	return SignedTransaction{ID: tx.ID(), Tx: tx}
}

// WithSignature returns a copy carrying sig in addition to the existing
// signatures. A signature from an address that already signed is ignored.
func (s SignedTransaction) WithSignature(sig Signature) SignedTransaction {
	if s.SignedBy(sig.By) {
		return s
	}
	next := s
	next.Signatures = make([]Signature, 0, len(s.Signatures)+1)
	next.Signatures = append(next.Signatures, s.Signatures...)
	next.Signatures = append(next.Signatures, sig)
	return next
}

// SignedBy reports whether a signature from addr is attached.
func (s SignedTransaction) SignedBy(addr common.Address) bool {
	for _, sig := range s.Signatures {
		if sig.By == addr {
			return true
		}
	}
	return false
}

// MissingSigners returns the required signers with no attached signature.
func (s SignedTransaction) MissingSigners() []common.Address {
	var missing []common.Address
	for _, addr := range s.Tx.RequiredSigners() {
		if !s.SignedBy(addr) {
			missing = append(missing, addr)
		}
	}
	return missing
}

// LedgerTransaction is a transaction with its inputs resolved to states. It
// is what the contracts verify.
type LedgerTransaction struct {
	ID       TxID
	Inputs   []StateAndRef
	Outputs  []State
	Commands []Command
	Notary   Party
}

// InputIOUs returns the IOU inputs in order.
func (l LedgerTransaction) InputIOUs() []IOU {
	var out []IOU
	for _, in := range l.Inputs {
		if in.State.IOU != nil {
			out = append(out, *in.State.IOU)
		}
	}
	return out
}

// OutputIOUs returns the IOU outputs in order.
func (l LedgerTransaction) OutputIOUs() []IOU {
	var out []IOU
	for _, s := range l.Outputs {
		if s.IOU != nil {
			out = append(out, *s.IOU)
		}
	}
	return out
}

// InputCash returns the cash inputs in order.
func (l LedgerTransaction) InputCash() []Cash {
	var out []Cash
	for _, in := range l.Inputs {
		if in.State.Cash != nil {
			out = append(out, *in.State.Cash)
		}
	}
	return out
}

// OutputCash returns the cash outputs in order.
func (l LedgerTransaction) OutputCash() []Cash {
	var out []Cash
	for _, s := range l.Outputs {
		if s.Cash != nil {
			out = append(out, *s.Cash)
		}
	}
	return out
}

// CommandsFor returns the commands routed to contract.
func (l LedgerTransaction) CommandsFor(contract string) []Command {
	var out []Command
	for _, c := range l.Commands {
		if c.Type.Contract() == contract {
			out = append(out, c)
		}
	}
	return out
}
