package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// EventsHandler serves the node's audit trail of protocol outcomes.
type EventsHandler struct {
	log    domain.EventLog
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler over log.
func NewEventsHandler(log domain.EventLog, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{log: log, logger: handlerLogger(logger, "events")}
}

// ListRecent returns the most recent events, newest first.
// GET /api/events/recent?limit=50
func (h *EventsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50, 500)
	events, err := h.log.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.TxEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
