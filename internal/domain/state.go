package domain

import (
	"fmt"
)

// StateKind names the record types a transaction can carry.
type StateKind string

const (
	KindIOU  StateKind = "iou"
	KindCash StateKind = "cash"
)

// State is a tagged union over the record types. Exactly one field is set.
type State struct {
	IOU  *IOU  `json:"iou,omitempty"`
	Cash *Cash `json:"cash,omitempty"`
}

// IOUState wraps i as a State.
func IOUState(i IOU) State { return State{IOU: &i} }

// CashState wraps c as a State.
func CashState(c Cash) State { return State{Cash: &c} }

// Kind reports which record type s holds, or "" when empty.
func (s State) Kind() StateKind {
	switch {
	case s.IOU != nil:
		return KindIOU
	case s.Cash != nil:
		return KindCash
	default:
		return ""
	}
}

// WellFormed reports whether exactly one record is set.
func (s State) WellFormed() bool {
	return (s.IOU != nil) != (s.Cash != nil)
}

// Participants returns the parties that track this record.
func (s State) Participants() []Party {
	switch {
	case s.IOU != nil:
		return s.IOU.Participants()
	case s.Cash != nil:
		return s.Cash.Participants()
	default:
		return nil
	}
}

// Equal compares two states by value.
func (s State) Equal(o State) bool {
	switch {
	case s.IOU != nil && o.IOU != nil:
		return *s.IOU == *o.IOU
	case s.Cash != nil && o.Cash != nil:
		return *s.Cash == *o.Cash
	default:
		return s.IOU == nil && o.IOU == nil && s.Cash == nil && o.Cash == nil
	}
}

func (s State) String() string {
	switch {
	case s.IOU != nil:
		return s.IOU.String()
	case s.Cash != nil:
		return s.Cash.String()
	default:
		return "State(empty)"
	}
}

// StateRef points at one output of a committed transaction.
type StateRef struct {
	TxID  TxID `json:"tx_id"`
	Index int  `json:"index"`
}

func (r StateRef) String() string {
	return fmt.Sprintf("%s(%d)", r.TxID.Hex(), r.Index)
}

// StateAndRef is a resolved state together with the reference to it.
type StateAndRef struct {
	State State    `json:"state"`
	Ref   StateRef `json:"ref"`
}
