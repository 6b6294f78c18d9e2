// Package ws streams committed-transaction events to dashboard websockets.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Largest filter message a client may send.
	maxMessageSize = 4096

	sendBufferSize = 256

	// backfillLimit must stay below sendBufferSize so a backfill never blocks.
	backfillLimit = 200
)

const (
	frameStatus  = "node_status"
	frameTxEvent = "tx_event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Read-only feed; the auth middleware guards it when an API key is set.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config describes the node the hub greets clients on behalf of.
type Config struct {
	Mode      string
	Party     string
	Role      string
	StartedAt time.Time
}

// Filter narrows a client's feed. Empty fields match every event.
type Filter struct {
	Events   []string `json:"events,omitempty"`
	LinearID string   `json:"linear_id,omitempty"`
}

// Matches reports whether ev passes f.
func (f Filter) Matches(ev domain.TxEvent) bool {
	if len(f.Events) > 0 && !slices.Contains(f.Events, ev.Event) {
		return false
	}
	if f.LinearID == "" {
		return true
	}
	for _, iou := range ev.IOUs {
		if iou.LinearID == f.LinearID {
			return true
		}
	}
	return false
}

// filterFromQuery reads ?events=a,b&linear_id=x.
func filterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	var f Filter
	for _, e := range strings.Split(q.Get("events"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			f.Events = append(f.Events, e)
		}
	}
	f.LinearID = strings.TrimSpace(q.Get("linear_id"))
	return f
}

type frame struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id,omitempty"`
	Payload  any    `json:"payload"`
}

type statusPayload struct {
	Mode          string `json:"mode"`
	Party         string `json:"party"`
	Role          string `json:"role"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter Filter
}

func (c *client) matches(ev domain.TxEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.Matches(ev)
}

func (c *client) setFilter(f Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// offer queues msg without blocking and reports whether it fit.
func (c *client) offer(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub fans TxEvents out of the signal bus to connected websocket clients.
// Slow clients lose frames rather than stall the feed.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	dropped    atomic.Int64
	subscribed chan struct{}
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		cfg:        cfg,
		clients:    make(map[*client]struct{}),
		subscribed: make(chan struct{}),
	}
}

// Run relays the transaction channel until ctx is cancelled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.ChannelTx)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", domain.ChannelTx, err)
	}
	close(h.subscribed)
	defer h.shutdown()

	h.logger.InfoContext(ctx, "hub running", slog.String("channel", domain.ChannelTx))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("ws: %s subscription closed", domain.ChannelTx)
			}
			h.broadcast(ctx, data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for full client buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) broadcast(ctx context.Context, data []byte) {
	var ev domain.TxEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.logger.WarnContext(ctx, "undecodable tx event", slog.String("error", err.Error()))
		return
	}
	msg, err := json.Marshal(frame{Type: frameTxEvent, Payload: json.RawMessage(data)})
	if err != nil {
		h.logger.ErrorContext(ctx, "encode frame", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.matches(ev) {
			continue
		}
		if !c.offer(msg) {
			h.dropped.Add(1)
			h.logger.WarnContext(ctx, "client buffer full, frame dropped",
				slog.String("remote", c.conn.RemoteAddr().String()),
				slog.String("tx_id", ev.TxID),
			)
		}
	}
}

// HandleWS upgrades the request and attaches the connection to the hub.
// Query parameters events and linear_id set the initial filter; since
// replays the durable stream after the given entry ID first.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	since := r.URL.Query().Get("since")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize), filter: filter}
	if msg, err := h.statusFrame(); err == nil {
		c.offer(msg)
	}
	if since != "" {
		h.backfill(r.Context(), c, since)
	}
	if !h.add(c) {
		_ = conn.Close()
		return
	}

	h.logger.Debug("client connected",
		slog.String("remote", conn.RemoteAddr().String()),
		slog.Int("clients", h.ClientCount()),
	)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) statusFrame() ([]byte, error) {
	return json.Marshal(frame{Type: frameStatus, Payload: statusPayload{
		Mode:          h.cfg.Mode,
		Party:         h.cfg.Party,
		Role:          h.cfg.Role,
		UptimeSeconds: int64(time.Since(h.cfg.StartedAt).Seconds()),
	}})
}

func (h *Hub) backfill(ctx context.Context, c *client, since string) {
	msgs, err := h.bus.StreamRead(ctx, domain.StreamTx, since, backfillLimit)
	if err != nil {
		h.logger.WarnContext(ctx, "backfill failed",
			slog.String("since", since),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, m := range msgs {
		var ev domain.TxEvent
		if json.Unmarshal(m.Payload, &ev) != nil || !c.matches(ev) {
			continue
		}
		msg, err := json.Marshal(frame{Type: frameTxEvent, StreamID: m.ID, Payload: json.RawMessage(m.Payload)})
		if err != nil {
			continue
		}
		c.offer(msg)
	}
}

// add registers c unless the hub has shut down.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// remove unregisters c and closes its send channel. Safe to call twice.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump applies filter messages from the client and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
		var f Filter
		if err := json.Unmarshal(data, &f); err != nil {
			h.logger.Debug("ignoring malformed filter", slog.String("error", err.Error()))
			continue
		}
		c.setFilter(f)
	}
}

// writePump drains c.send to the connection and keeps it alive with pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
