package handler

import (
	"net/http"

	"github.com/alanyoungcy/iouledger/internal/node"
)

// StatusSource reports a node's counters.
type StatusSource interface {
	Status() node.Status
}

// StatusHandler serves the node status for operators.
type StatusHandler struct {
	mode   string
	source StatusSource
}

// NewStatusHandler creates a StatusHandler for the given mode and node.
func NewStatusHandler(mode string, source StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, source: source}
}

// GetStatus responds with the run mode and the node status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode": h.mode,
		"node": h.source.Status(),
	})
}
