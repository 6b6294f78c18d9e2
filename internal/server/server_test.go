package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/cache/memory"
	"github.com/alanyoungcy/iouledger/internal/domain"
	"github.com/alanyoungcy/iouledger/internal/node"
	"github.com/alanyoungcy/iouledger/internal/server/handler"
	"github.com/alanyoungcy/iouledger/internal/vault"
)

var (
	alice = domain.Party{Name: "Alice", Address: common.HexToAddress("0xa1")}
	bob   = domain.Party{Name: "Bob", Address: common.HexToAddress("0xb0")}
)

type fakeLedger struct {
	vault *vault.Memory
	ious  []domain.StateAndRef
	cash  []domain.StateAndRef
	err   error
}

func (f *fakeLedger) IOUs(context.Context) ([]domain.StateAndRef, error) { return f.ious, f.err }
func (f *fakeLedger) Cash(context.Context) ([]domain.StateAndRef, error) { return f.cash, f.err }
func (f *fakeLedger) CashBalances(context.Context) (map[string]domain.Amount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]domain.Amount{
		"USD": domain.NewAmount(250, "USD"),
		"GBP": domain.NewAmount(1000, "GBP"),
	}, nil
}
func (f *fakeLedger) Vault() domain.Vault { return f.vault }

type fakeStatus struct{}

func (fakeStatus) Status() node.Status {
	return node.Status{Party: alice, Role: node.RoleParty, Committed: 3}
}

type countingLimiter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[key]++
	return l.calls[key] <= limit, nil
}

func newTestServer(t *testing.T, cfg Config, ledger *fakeLedger, limiter domain.RateLimiter) http.Handler {
	t.Helper()
	events := memory.NewEventLog(10)
	require.NoError(t, events.Log(context.Background(), domain.TxEvent{Event: domain.EventIOUIssued, Node: "Alice"}))
	require.NoError(t, events.Log(context.Background(), domain.TxEvent{Event: domain.EventIOUSettled, Node: "Alice"}))

	health := handler.NewHealthHandler(nil).
		WithCheck("vault", func(context.Context) error { return ledger.err })
	hs := Handlers{
		Health: health,
		Status: handler.NewStatusHandler("node", fakeStatus{}),
		Vault:  handler.NewVaultHandler(ledger, nil),
		Events: handler.NewEventsHandler(events, nil),
		P2P: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"p2p":true}`))
		}),
	}
	return NewServer(cfg, hs, limiter, nil).Handler()
}

func get(t *testing.T, h http.Handler, path string, hdr http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func sampleLedger(t *testing.T) *fakeLedger {
	t.Helper()
	iou := domain.NewIOU(domain.NewAmount(1000, "GBP"), alice, bob)
	iou, err := iou.Pay(domain.NewAmount(400, "GBP"))
	require.NoError(t, err)
	cash := domain.Cash{Issuer: bob, Owner: bob, Amount: domain.NewAmount(600, "GBP")}
	return &fakeLedger{
		vault: vault.NewMemory(),
		ious:  []domain.StateAndRef{{State: domain.IOUState(iou)}},
		cash:  []domain.StateAndRef{{State: domain.CashState(cash)}},
	}
}

func TestVaultRoutes(t *testing.T) {
	h := newTestServer(t, Config{}, sampleLedger(t), nil)

	rec, body := get(t, h, "/api/vault/ious", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ious := body["ious"].([]any)
	require.Len(t, ious, 1)
	assert.Equal(t, domain.NewAmount(600, "GBP").String(), ious[0].(map[string]any)["outstanding"])

	rec, body = get(t, h, "/api/vault/cash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["cash"], 1)

	rec, body = get(t, h, "/api/vault/balances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := body["balances"].([]any)
	require.Len(t, balances, 2)
	assert.Equal(t, "GBP", balances[0].(map[string]any)["currency"], "sorted by currency")
}

func TestTransactionLookup(t *testing.T) {
	h := newTestServer(t, Config{}, sampleLedger(t), nil)

	rec, _ := get(t, h, "/api/transactions/nothex", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, h, "/api/transactions/"+common.HexToHash("0x01").Hex(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusAndEvents(t *testing.T) {
	h := newTestServer(t, Config{}, sampleLedger(t), nil)

	rec, body := get(t, h, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "node", body["mode"])
	assert.Equal(t, float64(3), body["node"].(map[string]any)["committed"])

	rec, body = get(t, h, "/api/events/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventIOUSettled, events[0].(map[string]any)["event"])
}

func TestHealthDegraded(t *testing.T) {
	ledger := sampleLedger(t)
	h := newTestServer(t, Config{}, ledger, nil)

	rec, body := get(t, h, PathHealth, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	ledger.err = errors.New("connection refused")
	rec, body = get(t, h, PathHealth, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "connection refused", body["dependencies"].(map[string]any)["vault"])

	rec, _ = get(t, h, "/api/vault/ious", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "sekrit"}, sampleLedger(t), nil)

	rec, _ := get(t, h, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/api/status", http.Header{"Authorization": {"Bearer sekrit"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, h, "/api/status", http.Header{"X-Api-Key": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, PathHealth, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")

	rec, _ = get(t, h, PathP2P, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, "peers authenticate by handshake")
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{calls: map[string]int{}}
	h := newTestServer(t, Config{RateLimit: 2}, sampleLedger(t), limiter)

	for i := 0; i < 2; i++ {
		rec, _ := get(t, h, "/api/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := get(t, h, "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec, _ = get(t, h, PathHealth, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is not counted")

	rec, _ = get(t, h, "/api/status", http.Header{"X-Api-Key": {"k1"}})
	assert.Equal(t, http.StatusOK, rec.Code, "keyed clients have their own budget")
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "sekrit", CORSOrigins: []string{"http://dash.local"}}, sampleLedger(t), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "preflight needs no key")
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	rec, _ = get(t, h, "/api/status", http.Header{
		"Origin":        {"http://evil.local"},
		"Authorization": {"Bearer sekrit"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
