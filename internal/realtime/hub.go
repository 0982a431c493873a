// Package realtime streams alert lifecycle events to review-desk consoles
// over WebSocket.
//
// Clients connect to the admin stream and may narrow what they receive by
// sending a Subscription message at any time. A newly connected console is
// first sent the recent backlog that matches its (initially empty)
// subscription.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/riskgate/internal/alerts"
	"github.com/mbd888/riskgate/internal/metrics"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 1000

	// DefaultBacklog is how many recent events a new console is replayed.
	DefaultBacklog = 50

	sendBuffer   = 256
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var severityRank = map[alerts.Severity]int{
	alerts.SeverityInfo:     0,
	alerts.SeverityWarning:  1,
	alerts.SeverityHigh:     2,
	alerts.SeverityCritical: 3,
}

// Event is one message on the stream.
type Event struct {
	Kind      alerts.EventKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Alert     *alerts.Alert    `json:"alert"`
}

// Subscription filters for a client. Empty fields match everything.
type Subscription struct {
	Kinds       []alerts.EventKind `json:"kinds"`
	AccountIDs  []string           `json:"accountIds"`
	Types       []alerts.Type      `json:"types"`
	MinSeverity alerts.Severity    `json:"minSeverity"`
}

func (s Subscription) matches(ev *Event) bool {
	if len(s.Kinds) > 0 && !slices.Contains(s.Kinds, ev.Kind) {
		return false
	}
	a := ev.Alert
	if a == nil {
		return len(s.AccountIDs) == 0 && len(s.Types) == 0 && s.MinSeverity == ""
	}
	if len(s.AccountIDs) > 0 && !slices.Contains(s.AccountIDs, a.AccountID) {
		return false
	}
	if len(s.Types) > 0 && !slices.Contains(s.Types, a.Type) {
		return false
	}
	return s.MinSeverity == "" || severityRank[a.Severity] >= severityRank[s.MinSeverity]
}

// Client is one connected console.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
	DroppedClients   int64 `json:"droppedClients"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins permits browser consoles served from these origins in
// addition to same-host pages.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) { h.origins = origins }
}

// WithBacklog sets the replay depth for new consoles. Zero disables replay.
func WithBacklog(n int) Option {
	return func(h *Hub) { h.backlogSize = n }
}

// Hub fans alert events out to connected consoles.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int
	origins    []string
	upgrader   websocket.Upgrader

	backlogSize int
	backlog     []*Event // oldest first; owned by Run

	totalEvents    atomic.Int64
	totalClients   atomic.Int64
	peakClients    atomic.Int64
	droppedClients atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		broadcast:   make(chan *Event, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      logger,
		done:        make(chan struct{}),
		maxClients:  MaxClients,
		backlogSize: DefaultBacklog,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	return slices.Contains(h.origins, origin)
}

// Run owns the client set and the backlog until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("console disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			h.remember(event)
			h.fanOut(event)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	// Replay before the client is visible to fanOut so ordering holds.
	sub := client.subscription()
	for _, ev := range h.backlog {
		if !sub.matches(ev) {
			continue
		}
		select {
		case client.send <- encode(ev):
		default:
		}
	}

	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.totalClients.Add(1)
	if int64(n) > h.peakClients.Load() {
		h.peakClients.Store(int64(n))
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("console connected", "total", n)
}

func (h *Hub) remember(ev *Event) {
	if h.backlogSize <= 0 {
		return
	}
	if len(h.backlog) == h.backlogSize {
		h.backlog = h.backlog[1:]
	}
	h.backlog = append(h.backlog, ev)
}

func (h *Hub) fanOut(event *Event) {
	payload := encode(event)

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !h.shouldSend(client, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
			h.droppedClients.Add(1)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Warn("dropped slow consoles", "count", len(slow))
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	return client.subscription().matches(event)
}

func encode(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Broadcast queues an event for all matching clients. It drops the event
// when the queue is full.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "kind", event.Kind)
	}
}

// Name implements alerts.Notifier.
func (h *Hub) Name() string { return "websocket" }

// Notify implements alerts.Notifier. It never blocks the caller.
func (h *Hub) Notify(_ context.Context, ev alerts.Event) error {
	h.Broadcast(&Event{Kind: ev.Kind, Timestamp: ev.At, Alert: ev.Alert})
	return nil
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: n,
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		DroppedClients:   h.droppedClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.Stats().ConnectedClients >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump applies subscription updates until the connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
