package node

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/iouledger/internal/domain"
	"github.com/alanyoungcy/iouledger/internal/flow"
)

// Roles recorded on TxEvents.
const (
	roleInitiator = "initiator"
	roleResponder = "responder"
	roleNotary    = "notary"
)

// eventFor names the event a successful run of protocol produces.
func eventFor(role, protocol string) string {
	if role == roleNotary {
		return domain.EventTxNotarised
	}
	switch protocol {
	case flow.ProtocolIssue:
		return domain.EventIOUIssued
	case flow.ProtocolTransfer:
		return domain.EventIOUTransferred
	case flow.ProtocolSettle:
		return domain.EventIOUSettled
	case flow.ProtocolCash:
		return domain.EventCashIssued
	default:
		return protocol
	}
}

// finish counts the outcome of a run and fans the resulting TxEvent out to
// the bus, the event log, the archive and the notifier. Delivery failures are
// logged and never change the outcome.
func (n *Node) finish(ctx context.Context, role, protocol string, stx domain.SignedTransaction, runErr error) {
	ev := domain.TxEvent{
		Node:     n.me.Name,
		Role:     role,
		Protocol: protocol,
		At:       time.Now().UTC(),
	}
	if runErr != nil {
		n.aborted.Add(1)
		ev.Event = domain.EventFlowAborted
		ev.Error = runErr.Error()
		if stx.ID != (domain.TxID{}) {
			ev.TxID = stx.ID.Hex()
		}
	} else {
		if role != roleNotary {
			n.committed.Add(1)
		}
		ev.Event = eventFor(role, protocol)
		ev.TxID = stx.ID.Hex()
		for _, s := range stx.Tx.Outputs {
			if s.IOU != nil {
				ev.IOUs = append(ev.IOUs, *s.IOU)
			}
		}
	}

	// Deliveries outlive a cancelled run.
	ctx = context.WithoutCancel(ctx)
	n.publish(ctx, ev)

	if runErr == nil && role != roleNotary && n.archive != nil {
		if err := n.archive.Archive(ctx, stx); err != nil {
			n.logger.WarnContext(ctx, "node: archive failed",
				slog.String("tx_id", ev.TxID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (n *Node) publish(ctx context.Context, ev domain.TxEvent) {
	if n.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			n.logger.ErrorContext(ctx, "node: marshal event", slog.String("error", err.Error()))
		} else {
			if err := n.bus.Publish(ctx, domain.ChannelTx, payload); err != nil {
				n.logger.WarnContext(ctx, "node: publish event failed",
					slog.String("event", ev.Event),
					slog.String("error", err.Error()),
				)
			}
			if err := n.bus.StreamAppend(ctx, domain.StreamTx, payload); err != nil {
				n.logger.WarnContext(ctx, "node: stream append failed",
					slog.String("event", ev.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if n.events != nil {
		if err := n.events.Log(ctx, ev); err != nil {
			n.logger.WarnContext(ctx, "node: event log failed",
				slog.String("event", ev.Event),
				slog.String("error", err.Error()),
			)
		}
	}

	if n.notifier.Enabled() {
		if err := n.notifier.NotifyTx(ctx, ev); err != nil {
			n.logger.WarnContext(ctx, "node: notify failed",
				slog.String("event", ev.Event),
				slog.String("error", err.Error()),
			)
		}
	}
}
