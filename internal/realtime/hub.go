// Package realtime streams fraud decisions to WebSocket subscribers as they
// are made. Analysts watching the feed can narrow it to particular
// decisions, users, merchants, or risk levels.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/fraudswarm/internal/analysis"
	"github.com/mbd888/fraudswarm/internal/fraud"
	"github.com/mbd888/fraudswarm/internal/metrics"
)

// ErrFeedFull is returned by Publish when the broadcast queue is saturated.
var ErrFeedFull = errors.New("realtime: broadcast queue full")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait / 2
	maxMessageSize = 64 * 1024
	clientBuffer   = 256

	// DefaultMaxClients caps concurrent feed connections.
	DefaultMaxClients = 10000
	// DefaultQueueSize is the number of decisions buffered ahead of delivery.
	DefaultQueueSize = 256
)

// EventType distinguishes plain decisions from fraud-ring detections.
type EventType string

const (
	EventDecision  EventType = "decision"
	EventFraudRing EventType = "fraud_ring"
)

// Event is one message on the feed.
type Event struct {
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Analysis  *analysis.Record `json:"analysis"`
}

// Subscription filters a client's feed. Empty filters match everything.
type Subscription struct {
	AllEvents    bool             `json:"all_events"`
	EventTypes   []EventType      `json:"event_types"`
	Decisions    []fraud.Decision `json:"decisions"`
	UserIDs      []string         `json:"user_ids"`
	Merchants    []string         `json:"merchants"`
	MinRiskScore float64          `json:"min_risk_score"`
}

// Matches reports whether ev passes every filter in s.
func (s Subscription) Matches(ev *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, ev.Type) {
		return false
	}
	rec := ev.Analysis
	if rec == nil {
		return true
	}
	switch {
	case len(s.Decisions) > 0 && !slices.Contains(s.Decisions, rec.Decision):
		return false
	case len(s.UserIDs) > 0 && !slices.Contains(s.UserIDs, rec.UserID):
		return false
	case len(s.Merchants) > 0 && !slices.Contains(s.Merchants, rec.Merchant):
		return false
	}
	return rec.RiskScore >= s.MinRiskScore
}

// Stats summarizes feed activity.
type Stats struct {
	ConnectedClients int   `json:"connected_clients"`
	PeakClients      int64 `json:"peak_clients"`
	TotalClients     int64 `json:"total_clients"`
	TotalEvents      int64 `json:"total_events"`
	DroppedEvents    int64 `json:"dropped_events"`
	EvictedClients   int64 `json:"evicted_clients"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func (c *client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *client) setSubscription(sub Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// Hub fans finished analyses out to connected feed clients. It implements
// analysis.Sink.
type Hub struct {
	logger     *slog.Logger
	maxClients int
	now        func() time.Time
	upgrader   websocket.Upgrader

	broadcast  chan *Event
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run exits

	mu      sync.RWMutex
	clients map[*client]struct{}

	totalEvents    atomic.Int64
	droppedEvents  atomic.Int64
	totalClients   atomic.Int64
	peakClients    atomic.Int64
	evictedClients atomic.Int64
}

var _ analysis.Sink = (*Hub)(nil)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMaxClients caps concurrent connections.
func WithMaxClients(n int) HubOption {
	return func(h *Hub) { h.maxClients = n }
}

// WithQueueSize sets how many events may wait for delivery.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) { h.broadcast = make(chan *Event, n) }
}

// NewHub creates a hub. Call Run to start delivery.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger:     logger,
		maxClients: DefaultMaxClients,
		now:        time.Now,
		broadcast:  make(chan *Event, DefaultQueueSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// sameOrigin accepts non-browser clients and pages served by this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// Run delivers events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("decision feed started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("decision feed stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("feed client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("feed client disconnected", "clients", n)

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// deliver sends ev to every matching client. Clients whose buffers are full
// are disconnected so one slow reader cannot stall the feed.
func (h *Hub) deliver(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to encode feed event", "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.subscription().Matches(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			close(c.send)
			delete(h.clients, c)
			h.evictedClients.Add(1)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Warn("evicted slow feed clients", "count", len(slow))
}

// Name implements analysis.Sink.
func (h *Hub) Name() string { return "websocket" }

// Publish implements analysis.Sink. Ring detections go out as fraud_ring
// events, everything else as decision events. It never blocks.
func (h *Hub) Publish(_ context.Context, rec *analysis.Record) error {
	typ := EventDecision
	if rec.FraudRingDetected {
		typ = EventFraudRing
	}
	select {
	case h.broadcast <- &Event{Type: typ, Timestamp: h.now(), Analysis: rec}:
		return nil
	default:
		h.droppedEvents.Add(1)
		return ErrFeedFull
	}
}

// Stats returns a snapshot of feed counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: n,
		PeakClients:      h.peakClients.Load(),
		TotalClients:     h.totalClients.Load(),
		TotalEvents:      h.totalEvents.Load(),
		DroppedEvents:    h.droppedEvents.Load(),
		EvictedClients:   h.evictedClients.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches the connection to the
// feed. New clients receive every event until they send a Subscription.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
		sub:  Subscription{AllEvents: true},
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump applies subscription updates until the connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var sub Subscription
		if err := c.conn.ReadJSON(&sub); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.hub.logger.Debug("ignoring malformed subscription", "error", err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.setSubscription(sub)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *client) writePump() {
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
				c.hub.logger.Debug("websocket write failed", "error", err)
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
