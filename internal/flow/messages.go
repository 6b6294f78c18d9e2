// Package flow implements the commit protocol: the initiator that builds,
// signs and finalizes a transaction, and the responders that validate and
// counter-sign it.
package flow

import (
	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Protocol names carried on every session.
const (
	ProtocolIssue    = "iou-issue"
	ProtocolTransfer = "iou-transfer"
	ProtocolSettle   = "iou-settle"
	ProtocolCash     = "cash-issue"
	ProtocolNotary   = "notary.request"
)

// Message types exchanged on sessions.
const (
	msgProposal  = "proposal"
	msgSignature = "signature"
	msgReject    = "reject"
	msgFinality  = "finality"
	msgAck       = "ack"

	msgNotarise  = "notarise"
	msgNotarised = "notarised"
	msgConflict  = "conflict"
	msgError     = "error"
)

// Rejection kinds beyond the contract violation kinds.
const (
	KindInvalidTransaction = "invalid_transaction"
	KindInvalidSignature   = "invalid_signature"
	KindUnverifiedInput    = "unverified_input"
	KindCheckFailed        = "check_failed"
	KindNotSigner          = "not_a_signer"
	KindProtocol           = "protocol_violation"
)

// Proposal asks a counterparty to sign Transaction. Inputs are the resolved
// states it consumes and Dependencies the transactions that produced them.
type Proposal struct {
	Transaction  domain.SignedTransaction   `json:"transaction"`
	Inputs       []domain.StateAndRef       `json:"inputs,omitempty"`
	Dependencies []domain.SignedTransaction `json:"dependencies,omitempty"`
}

// Rejection is a counterparty's structured refusal.
type Rejection struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Finality carries the notarised transaction back to each counterparty.
type Finality struct {
	Transaction domain.SignedTransaction `json:"transaction"`
}

type notariseRequest struct {
	Transaction domain.SignedTransaction `json:"transaction"`
}

type conflictReply struct {
	Ref        domain.StateRef `json:"ref"`
	ConsumedBy domain.TxID     `json:"consumed_by"`
}

type errorReply struct {
	Reason string `json:"reason"`
}
