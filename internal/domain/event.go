package domain

import (
	"context"
	"time"
)

// Event names published when a protocol run ends.
const (
	EventIOUIssued      = "iou_issued"
	EventIOUTransferred = "iou_transferred"
	EventIOUSettled     = "iou_settled"
	EventCashIssued     = "cash_issued"
	EventTxNotarised    = "tx_notarised"
	EventFlowAborted    = "flow_aborted"
)

// Bus channels and streams carrying TxEvents.
const (
	ChannelTx = "ch:tx"
	StreamTx  = "stream:tx"
)

// TxEvent describes the outcome of a protocol run on this node.
type TxEvent struct {
	Event    string    `json:"event"`
	Node     string    `json:"node"`
	Role     string    `json:"role"`
	Protocol string    `json:"protocol"`
	TxID     string    `json:"tx_id,omitempty"`
	IOUs     []IOU     `json:"ious,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// EventLog is an append-only audit trail of TxEvents.
type EventLog interface {
	Log(ctx context.Context, ev TxEvent) error
	Recent(ctx context.Context, limit int) ([]TxEvent, error)
}
