package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/crypto"
	"github.com/alanyoungcy/iouledger/internal/domain"
)

var (
	alice = domain.Party{Name: "Alice", Address: common.HexToAddress("0xa1")}
	bob   = domain.Party{Name: "Bob", Address: common.HexToAddress("0xb0")}
)

// pair starts bob behind an httptest server and returns alice's transport
// dialing it.
func pair(t *testing.T, aliceSecret string) (*Transport, *Transport, string) {
	t.Helper()
	bobT := New(Config{
		Self:  bob,
		Peers: []Peer{{Party: alice}},
		Auth:  &crypto.PeerAuth{Secret: "shared"},
	})
	srv := httptest.NewServer(bobT)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	aliceT := New(Config{
		Self:  alice,
		Peers: []Peer{{Party: bob, URL: url}},
		Auth:  &crypto.PeerAuth{Secret: aliceSecret},
	})
	return aliceT, bobT, url
}

func TestSessionExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	aliceT, bobT, _ := pair(t, "shared")

	out, err := aliceT.Open(ctx, bob, "iou-issue")
	require.NoError(t, err)
	defer out.Close()

	in, err := bobT.Accept(ctx)
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, out.ID(), in.ID())
	assert.Equal(t, "iou-issue", in.Protocol())
	assert.Equal(t, alice, in.Counterparty())

	msg, err := domain.NewMessage("proposal", map[string]string{"hello": "bob"})
	require.NoError(t, err)
	require.NoError(t, out.Send(ctx, msg))

	got, err := in.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "proposal", got.Type)
	assert.JSONEq(t, `{"hello":"bob"}`, string(got.Payload))

	require.NoError(t, in.Send(ctx, domain.Message{Type: "ack"}))
	require.NoError(t, in.Close())

	got, err = out.Receive(ctx)
	require.NoError(t, err, "message sent before close is delivered")
	assert.Equal(t, "ack", got.Type)

	_, err = out.Receive(ctx)
	assert.ErrorIs(t, err, domain.ErrSession)
}

func TestHandshakeRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	aliceT, _, _ := pair(t, "wrong-secret")

	_, err := aliceT.Open(ctx, bob, "iou-issue")
	assert.ErrorIs(t, err, domain.ErrSession)

	_, err = aliceT.Open(ctx, domain.Party{Name: "Nobody", Address: common.HexToAddress("0xdd")}, "iou-issue")
	assert.ErrorIs(t, err, domain.ErrSession)
}

func TestHandshakeReplayAndUnknownPeer(t *testing.T) {
	_, _, url := pair(t, "shared")
	auth := &crypto.PeerAuth{Secret: "shared"}

	hdr := auth.Headers(crypto.Handshake{
		From:        alice.Name,
		FromAddress: alice.Address.Hex(),
		SessionID:   "fixed-session",
		Protocol:    "iou-issue",
	})
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	stranger := auth.Headers(crypto.Handshake{
		From:        "Mallory",
		FromAddress: common.HexToAddress("0xee").Hex(),
		SessionID:   "s2",
		Protocol:    "iou-issue",
	})
	_, resp, err = websocket.DefaultDialer.Dial(url, stranger)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestReplayGuard(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }

	assert.False(t, g.Seen("a"))
	assert.True(t, g.Seen("a"))

	now = now.Add(2 * time.Minute)
	g.Cleanup()
	assert.Empty(t, g.seen)
	assert.False(t, g.Seen("a"))
}
