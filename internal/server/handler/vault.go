package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// LedgerReader is the read side of a node that the vault endpoints need.
type LedgerReader interface {
	IOUs(ctx context.Context) ([]domain.StateAndRef, error)
	Cash(ctx context.Context) ([]domain.StateAndRef, error)
	CashBalances(ctx context.Context) (map[string]domain.Amount, error)
	Vault() domain.Vault
}

var txIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// VaultHandler serves read-only views of the node's vault.
type VaultHandler struct {
	ledger  LedgerReader
	archive domain.TxArchive // optional; consulted when the vault misses
	logger  *slog.Logger
}

// NewVaultHandler creates a VaultHandler over ledger.
func NewVaultHandler(ledger LedgerReader, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{ledger: ledger, logger: handlerLogger(logger, "vault")}
}

// WithArchive lets transaction lookups fall back to archive.
func (h *VaultHandler) WithArchive(archive domain.TxArchive) *VaultHandler {
	h.archive = archive
	return h
}

type iouView struct {
	Ref         domain.StateRef `json:"ref"`
	IOU         domain.IOU      `json:"iou"`
	Outstanding string          `json:"outstanding"`
	Display     string          `json:"display"`
}

type cashView struct {
	Ref    domain.StateRef `json:"ref"`
	Cash   domain.Cash     `json:"cash"`
	Amount string          `json:"amount"`
}

type balanceView struct {
	Currency string `json:"currency"`
	Quantity int64  `json:"quantity"`
	Amount   string `json:"amount"`
}

// ListIOUs returns the unconsumed IOUs this node is a party to.
// GET /api/vault/ious
func (h *VaultHandler) ListIOUs(w http.ResponseWriter, r *http.Request) {
	states, err := h.ledger.IOUs(r.Context())
	if err != nil {
		h.fail(w, r, "list ious", err)
		return
	}
	out := make([]iouView, 0, len(states))
	for _, s := range states {
		if s.State.IOU == nil {
			continue
		}
		iou := *s.State.IOU
		v := iouView{Ref: s.Ref, IOU: iou, Display: iou.String()}
		if left, err := iou.Outstanding(); err == nil {
			v.Outstanding = left.String()
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ious": out})
}

// ListCash returns the unconsumed cash this node owns.
// GET /api/vault/cash
func (h *VaultHandler) ListCash(w http.ResponseWriter, r *http.Request) {
	states, err := h.ledger.Cash(r.Context())
	if err != nil {
		h.fail(w, r, "list cash", err)
		return
	}
	out := make([]cashView, 0, len(states))
	for _, s := range states {
		if s.State.Cash == nil {
			continue
		}
		out = append(out, cashView{Ref: s.Ref, Cash: *s.State.Cash, Amount: s.State.Cash.Amount.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cash": out})
}

// Balances returns this node's cash summed per currency.
// GET /api/vault/balances
func (h *VaultHandler) Balances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.ledger.CashBalances(r.Context())
	if err != nil {
		h.fail(w, r, "cash balances", err)
		return
	}
	out := make([]balanceView, 0, len(balances))
	for ccy, amt := range balances {
		out = append(out, balanceView{Currency: ccy, Quantity: amt.Quantity, Amount: amt.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	writeJSON(w, http.StatusOK, map[string]any{"balances": out})
}

// GetTransaction returns a committed transaction by id.
// GET /api/transactions/{id}
func (h *VaultHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	if !txIDPattern.MatchString(raw) {
		writeError(w, http.StatusBadRequest, "id must be a 0x-prefixed 32-byte hex hash")
		return
	}
	id := common.HexToHash(raw)

	stx, err := h.ledger.Vault().Transaction(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) && h.archive != nil {
		stx, err = h.archive.Fetch(r.Context(), id)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case err != nil:
		h.fail(w, r, "get transaction", err)
	default:
		writeJSON(w, http.StatusOK, stx)
	}
}

func (h *VaultHandler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+action+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, action+" failed")
}
