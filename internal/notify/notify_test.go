package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{domain.EventIOUIssued, " "}, nil)
	ctx := context.Background()

	require.NoError(t, n.NotifyTx(ctx, domain.TxEvent{Event: domain.EventIOUIssued, Node: "Alice"}))
	require.NoError(t, n.NotifyTx(ctx, domain.TxEvent{Event: domain.EventCashIssued, Node: "Alice"}))
	assert.Equal(t, []string{"IOU issued on Alice"}, rec.titles)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, nil).Enabled())
}

func TestNotifierCombinesFailures(t *testing.T) {
	ok := &recordingSender{}
	bad := &recordingSender{err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, nil)

	err := n.NotifyTx(context.Background(), domain.TxEvent{Event: domain.EventFlowAborted, Node: "Bob", Protocol: "iou-settle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, []string{"iou-settle aborted on Bob"}, ok.titles, "the healthy sender still receives it")
}

func TestBody(t *testing.T) {
	iou := domain.NewIOU(domain.NewAmount(1000, "GBP"),
		domain.Party{Name: "Alice"}, domain.Party{Name: "Bob"})
	body := Body(domain.TxEvent{
		Protocol: "iou-issue",
		Role:     "initiator",
		TxID:     "0xabc",
		IOUs:     []domain.IOU{iou},
	})
	assert.Contains(t, body, "protocol: iou-issue (initiator)")
	assert.Contains(t, body, "tx: 0xabc")
	assert.Contains(t, body, "Bob owes Alice 10.00 GBP")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, "iounode")
	require.NoError(t, s.Send(context.Background(), "Title", strings.Repeat("x", 3000)))
	assert.Equal(t, "iounode", got.Username)
	assert.Len(t, []rune(got.Content), discordMaxContent)
	assert.True(t, strings.HasPrefix(got.Content, "**Title**\n"))
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, "").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}
