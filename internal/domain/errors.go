package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrLookupNotFound       = ErrNotFound
	ErrValidation           = errors.New("transaction validation failed")
	ErrUnrecognizedCommand  = errors.New("unrecognized or missing command")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrAmountOverflow       = errors.New("amount out of range")
	ErrAuthorization        = errors.New("not authorized")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrCounterpartyRejected = errors.New("counterparty rejected transaction")
	ErrDoubleSpend          = errors.New("double spend")
	ErrNotarizationFailed   = errors.New("notarization failed")
	ErrSession              = errors.New("session error")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrSigningFailed        = errors.New("signing failed")
	ErrLockHeld             = errors.New("lock already held")
	ErrUnauthorized         = errors.New("unauthorized")
)

// ViolationKind classifies a contract violation.
type ViolationKind string

const (
	ViolationRule                ViolationKind = "validation"
	ViolationUnrecognizedCommand ViolationKind = "unrecognized_or_missing_command"
	ViolationCurrencyMismatch    ViolationKind = "currency_mismatch"
)

// Violation is a failed contract requirement. Reason is the fixed text of the
// first requirement that did not hold.
type Violation struct {
	Kind     ViolationKind
	Contract string
	Reason   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s contract: failed requirement: %s", v.Contract, v.Reason)
}

// Is matches ErrValidation for every violation, plus the sentinel for its
// kind.
func (v *Violation) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrUnrecognizedCommand:
		return v.Kind == ViolationUnrecognizedCommand
	case ErrCurrencyMismatch:
		return v.Kind == ViolationCurrencyMismatch
	}
	return false
}

// RejectionError carries a counterparty's refusal to sign.
type RejectionError struct {
	Party  string
	Kind   string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected the transaction (%s): %s", e.Party, e.Kind, e.Reason)
}

// Is makes errors.Is(err, ErrCounterpartyRejected) match.
func (e *RejectionError) Is(target error) bool {
	return target == ErrCounterpartyRejected
}

// ConflictError reports an input already consumed by another transaction.
type ConflictError struct {
	Ref        StateRef
	ConsumedBy TxID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("input %s already consumed by %s", e.Ref, e.ConsumedBy.Hex())
}

// Is makes errors.Is(err, ErrDoubleSpend) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrDoubleSpend
}
