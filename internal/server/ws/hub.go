// Package ws relays engine events from the bus to WebSocket clients.
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
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Clients only send control frames.
	maxMessageSize = 512

	// A client whose queue fills up is disconnected.
	sendQueue = 256
)

// Channels are the bus channels the hub relays.
var Channels = []string{
	domain.ChannelPortfolio,
	domain.ChannelTriggers,
	domain.ChannelSessions,
	domain.ChannelPrices,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// LiveCounter reports how many sessions are live.
type LiveCounter interface {
	LiveCount() int
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans bus events out to connected clients. Each client picks its
// channels and, optionally, one session with query parameters on connect.
type Hub struct {
	bus    domain.EventBus
	live   LiveCounter
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub relaying bus to connected clients. live may be nil.
func NewHub(bus domain.EventBus, live LiveCounter, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:     bus,
		live:    live,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
	}
}

// Run relays every channel until ctx is cancelled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(gctx, ch)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("ws: subscribe %q: %w", ch, err)
		}
		g.Go(func() error {
			h.relay(gctx, ch, msgs)
			return nil
		})
	}
	return g.Wait()
}

func (h *Hub) relay(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", channel))
				return
			}
			h.deliver(channel, data)
		}
	}
}

// deliver queues data for every client that wants it.
func (h *Hub) deliver(channel string, data []byte) {
	sessionID := eventSession(data)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(channel, sessionID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: client too slow, disconnecting",
				slog.String("channel", channel),
				slog.String("remote", c.conn.RemoteAddr().String()),
			)
			h.dropLocked(c)
		}
	}
}

func eventSession(data []byte) string {
	var evt struct {
		SessionID string `json:"session_id"`
	}
	if json.Unmarshal(data, &evt) != nil {
		return ""
	}
	return evt.SessionID
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
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
		h.dropLocked(c)
	}
}

// HandleWS upgrades the request and streams events to the client.
// ?channels=a,b narrows the relayed channels; ?session=<id> drops events
// that belong to other sessions.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	channels, err := parseChannels(r.URL.Query().Get("channels"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		conn:     conn,
		send:     make(chan []byte, sendQueue),
		session:  r.URL.Query().Get("session"),
		channels: channels,
	}
	c.send <- h.hello(c)
	if !h.add(c) {
		conn.Close()
		return
	}
	h.logger.Info("ws: client connected",
		slog.String("session_filter", c.session),
		slog.Any("channels", channels),
	)

	go c.writeLoop()
	c.readLoop()
	h.remove(c)
	h.logger.Info("ws: client disconnected", slog.String("session_filter", c.session))
}

func parseChannels(raw string) ([]string, error) {
	if raw == "" {
		return Channels, nil
	}
	var out []string
	for _, ch := range strings.Split(raw, ",") {
		ch = strings.TrimSpace(ch)
		if !slices.Contains(Channels, ch) {
			return nil, fmt.Errorf("unknown channel %q", ch)
		}
		out = append(out, ch)
	}
	return out, nil
}

// hello is the first frame on every connection.
func (h *Hub) hello(c *client) []byte {
	payload := map[string]any{
		"mode":           h.cfg.Mode,
		"uptime_seconds": max(0, int64(time.Since(h.cfg.StartedAt).Seconds())),
		"channels":       c.channels,
	}
	if h.live != nil {
		payload["live_sessions"] = h.live.LiveCount()
	}
	msg, _ := json.Marshal(domain.Event{Type: "hub_status", SessionID: c.session, Data: payload, At: time.Now().UTC()})
	return msg
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	session  string
	channels []string
}

func (c *client) wants(channel, sessionID string) bool {
	if c.session != "" && sessionID != "" && sessionID != c.session {
		return false
	}
	return slices.Contains(c.channels, channel)
}

// readLoop discards client frames and returns when the connection dies.
// It keeps the read deadline moving with each pong.
func (c *client) readLoop() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
