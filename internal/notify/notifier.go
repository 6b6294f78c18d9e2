// Package notify delivers commit notifications to operator channels. Events
// are dispatched to every registered sender (Telegram, Discord) and can be
// filtered by event name.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Only events in
// the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to senders. events lists the
// TxEvent names to forward.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyTx formats ev and sends it if its event name is allowed.
func (n *Notifier) NotifyTx(ctx context.Context, ev domain.TxEvent) error {
	if len(n.events) > 0 && !n.events[ev.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Event))
		return nil
	}
	return n.dispatch(ctx, Title(ev), Body(ev))
}

// Title renders the headline for ev.
func Title(ev domain.TxEvent) string {
	switch ev.Event {
	case domain.EventIOUIssued:
		return fmt.Sprintf("IOU issued on %s", ev.Node)
	case domain.EventIOUTransferred:
		return fmt.Sprintf("IOU transferred on %s", ev.Node)
	case domain.EventIOUSettled:
		return fmt.Sprintf("IOU settled on %s", ev.Node)
	case domain.EventCashIssued:
		return fmt.Sprintf("Cash issued on %s", ev.Node)
	case domain.EventFlowAborted:
		return fmt.Sprintf("%s aborted on %s", ev.Protocol, ev.Node)
	default:
		return fmt.Sprintf("%s on %s", ev.Event, ev.Node)
	}
}

// Body renders the message text for ev: the transaction id, the resulting
// IOUs and the failure, when present.
func Body(ev domain.TxEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "protocol: %s (%s)", ev.Protocol, ev.Role)
	if ev.TxID != "" {
		fmt.Fprintf(&b, "\ntx: %s", ev.TxID)
	}
	for _, iou := range ev.IOUs {
		fmt.Fprintf(&b, "\n%s", iou)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", ev.Error)
	}
	return b.String()
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
