package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is the envelope exchanged over a session.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes v as the payload of a typ message.
func NewMessage(typ string, v any) (Message, error) {
	if v == nil {
		return Message{Type: typ}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("domain: encode %s message: %w", typ, err)
	}
	return Message{Type: typ, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("domain: decode %s message: %w", m.Type, err)
	}
	return nil
}

// Session is a point-to-point channel between two parties for one protocol
// run. Send and Receive block until done or ctx ends.
type Session interface {
	ID() string
	Protocol() string
	Counterparty() Party
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Transport opens outbound sessions and accepts inbound ones.
type Transport interface {
	Open(ctx context.Context, to Party, protocol string) (Session, error)
	Accept(ctx context.Context) (Session, error)
}
