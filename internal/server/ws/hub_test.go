package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iouledger/internal/cache/memory"
	"github.com/alanyoungcy/iouledger/internal/domain"
)

type testFrame struct {
	Type     string          `json:"type"`
	StreamID string          `json:"stream_id"`
	Payload  json.RawMessage `json:"payload"`
}

func startHub(t *testing.T) (*Hub, *memory.SignalBus, *httptest.Server) {
	t.Helper()
	bus := memory.NewSignalBus()
	hub := NewHub(bus, nil, Config{Mode: "node", Party: "Alice", Role: "party"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-hub.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never subscribed")
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, bus, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() > before }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f testFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func publish(t *testing.T, bus *memory.SignalBus, ev domain.TxEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelTx, data))
}

func TestHubGreetsWithNodeStatus(t *testing.T) {
	hub, _, srv := startHub(t)
	conn := dial(t, hub, srv, "")

	f := readFrame(t, conn)
	assert.Equal(t, frameStatus, f.Type)

	var st statusPayload
	require.NoError(t, json.Unmarshal(f.Payload, &st))
	assert.Equal(t, "Alice", st.Party)
	assert.Equal(t, "party", st.Role)
}

func TestHubFiltersByEventKind(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, hub, srv, "?events="+domain.EventIOUSettled)
	readFrame(t, conn) // greeting

	publish(t, bus, domain.TxEvent{Event: domain.EventIOUIssued, TxID: "0x01"})
	publish(t, bus, domain.TxEvent{Event: domain.EventIOUSettled, TxID: "0x02"})

	f := readFrame(t, conn)
	assert.Equal(t, frameTxEvent, f.Type)
	var ev domain.TxEvent
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.Equal(t, "0x02", ev.TxID)
}

func TestHubFilterMessageReplacesFilter(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, hub, srv, "?events="+domain.EventIOUSettled)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(Filter{LinearID: "debt-1"}))

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		for c := range hub.clients {
			if c.matches(domain.TxEvent{Event: domain.EventIOUIssued, IOUs: []domain.IOU{{LinearID: "debt-1"}}}) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	publish(t, bus, domain.TxEvent{Event: domain.EventIOUIssued, TxID: "0x04", IOUs: []domain.IOU{{LinearID: "other"}}})
	publish(t, bus, domain.TxEvent{Event: domain.EventIOUIssued, TxID: "0x03", IOUs: []domain.IOU{{LinearID: "debt-1"}}})

	f := readFrame(t, conn)
	var ev domain.TxEvent
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.Equal(t, "0x03", ev.TxID)
}

func TestHubBackfillsFromStream(t *testing.T) {
	hub, bus, srv := startHub(t)
	ctx := context.Background()
	for _, id := range []string{"0x0a", "0x0b"} {
		data, err := json.Marshal(domain.TxEvent{Event: domain.EventIOUIssued, TxID: id})
		require.NoError(t, err)
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamTx, data))
	}

	conn := dial(t, hub, srv, "?since=1-0")
	assert.Equal(t, frameStatus, readFrame(t, conn).Type)

	f := readFrame(t, conn)
	assert.Equal(t, frameTxEvent, f.Type)
	assert.Equal(t, "2-0", f.StreamID)
	var ev domain.TxEvent
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.Equal(t, "0x0b", ev.TxID)
}

func TestFilterMatches(t *testing.T) {
	ev := domain.TxEvent{Event: domain.EventIOUTransferred, IOUs: []domain.IOU{{LinearID: "a"}}}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"matching kind", Filter{Events: []string{domain.EventIOUTransferred}}, true},
		{"other kind", Filter{Events: []string{domain.EventIOUSettled}}, false},
		{"matching linear id", Filter{LinearID: "a"}, true},
		{"other linear id", Filter{LinearID: "b"}, false},
		{"kind and id", Filter{Events: []string{domain.EventIOUTransferred}, LinearID: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(ev))
		})
	}
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	bus := memory.NewSignalBus()
	hub := NewHub(bus, nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	<-hub.subscribed

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, hub.add(&client{send: make(chan []byte, 1)}))
}
