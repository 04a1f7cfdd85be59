// Package ws streams live simulation statistics to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/feed"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Topics a client can subscribe to. New clients receive all of them.
const (
	TopicStats  = "stats"
	TopicState  = "state"
	TopicPrices = "prices"
)

var defaultTopics = []string{TopicStats, TopicState, TopicPrices}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Status reports the run a hub belongs to.
type Status interface {
	RunID() string
	State() domain.SimulationState
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg is sent by clients to change their topics.
type subscribeMsg struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type broadcastMsg struct {
	topic string
	data  []byte
}

// Hub fans simulation events out to connected clients. It is a stats sink
// for the visualization loop and, given a subscriber, relays price updates.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	status     Status
	sub        feed.Subscriber
	startedAt  time.Time
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub. sub may be nil.
func NewHub(status Status, sub feed.Subscriber, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		status:     status,
		sub:        sub,
		startedAt:  time.Now(),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// PublishStats broadcasts a statistics snapshot to TopicStats.
func (h *Hub) PublishStats(ctx context.Context, snap domain.StatsSnapshot) error {
	return h.publish(ctx, TopicStats, snap)
}

// BroadcastState sends a state transition to TopicState. Its signature
// matches the simulator's state-change hook.
func (h *Hub) BroadcastState(from, to domain.SimulationState, err error) {
	payload := map[string]string{"from": from.String(), "to": to.String()}
	if err != nil {
		payload["error"] = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if perr := h.publish(ctx, TopicState, payload); perr != nil {
		h.logger.Warn("state broadcast dropped", slog.String("error", perr.Error()))
	}
}

func (h *Hub) publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(envelope{Type: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("ws: marshal %s: %w", topic, err)
	}
	select {
	case h.broadcast <- broadcastMsg{topic: topic, data: data}:
		return nil
	case <-h.done:
		return fmt.Errorf("ws: hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.sub != nil {
		go h.relayPrices(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("topic", msg.topic))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relayPrices forwards raw price updates to TopicPrices.
func (h *Hub) relayPrices(ctx context.Context) {
	ch, err := h.sub.Subscribe(ctx, feed.PricesChannel)
	if err != nil {
		h.logger.Error("price subscription failed", slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if !json.Valid(data) {
				continue
			}
			if err := h.publish(ctx, TopicPrices, json.RawMessage(data)); err != nil {
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(defaultTopics)),
	}
	for _, t := range defaultTopics {
		c.subs[t] = true
	}

	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.ToLower(msg.Action) {
	case "subscribe":
		for _, t := range msg.Topics {
			c.subs[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.subs, t)
		}
	}
}

// sendStatus queues the run id and state so clients see a live connection
// before the first snapshot arrives.
func (c *client) sendStatus() {
	payload := map[string]any{
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
	}
	if c.hub.status != nil {
		payload["run_id"] = c.hub.status.RunID()
		payload["state"] = c.hub.status.State().String()
	}
	msg, err := json.Marshal(envelope{Type: "status", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[topic]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
