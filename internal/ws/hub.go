package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/swaplane/swaplane-backend/internal/metrics"
	"github.com/swaplane/swaplane-backend/internal/store"
	"go.uber.org/zap"
)

// Hub fans order lifecycle events out to connected websocket clients. Events
// arrive over the cache's pubsub channel, so a multi-instance deployment
// behind Redis delivers every instance's updates to every client.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	cache      *store.Cache
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	origins    []string
	mu         sync.RWMutex
}

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	topics     map[string]bool
	lastActive time.Time
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type SubscriptionRequest struct {
	Type      string   `json:"type"`
	Topics    []string `json:"topics"`
	OrderHash string   `json:"orderHash,omitempty"`
}

// TopicOrders receives every order event; per-order topics are
// "order:<orderHash>".
const TopicOrders = "orders"

func orderTopic(orderHash string) string {
	return "order:" + strings.ToLower(orderHash)
}

func NewHub(cache *store.Cache, logger *zap.SugaredLogger, m *metrics.Metrics, allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cache:      cache,
		logger:     logger,
		metrics:    m,
		origins:    allowedOrigins,
	}
}

func (h *Hub) Run(ctx context.Context) {
	go h.subscribeOrderEvents(ctx)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.IncrementConnections(ctx)
			h.logger.Debugw("Client registered", "topics", client.topics)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.metrics.DecrementConnections(ctx)
			h.logger.Debugw("Client unregistered")
		}
	}
}

func (h *Hub) subscribeOrderEvents(ctx context.Context) {
	// Redis pubsub when available, the cache's local hub otherwise.
	pubsub := h.cache.Subscribe(ctx, store.ChannelOrderEvents)
	if pubsub != nil {
		defer pubsub.Close()
		h.handleRedisMessages(ctx, pubsub)
		return
	}

	if h.cache.IsInMemoryMode() {
		local := h.cache.SubscribeLocal(ctx, store.ChannelOrderEvents)
		if local != nil {
			defer local.Close()
			h.logger.Debugw("Using in-process pubsub for WebSocket hub")
			h.handleLocalMessages(ctx, local)
			return
		}
	}

	h.logger.Warnw("No pubsub available; order event stream disabled")
}

func (h *Hub) handleRedisMessages(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg != nil {
				h.dispatch([]byte(msg.Payload))
			}
		}
	}
}

func (h *Hub) handleLocalMessages(ctx context.Context, local *store.LocalPubSub) {
	ch := local.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg != nil {
				h.dispatch([]byte(msg.Payload))
			}
		}
	}
}

// dispatch turns one order event payload into a websocket frame and routes it
// to clients watching the order stream or that specific order.
func (h *Hub) dispatch(payload []byte) {
	var evt store.OrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Warnw("Unparseable order event", "error", err)
		return
	}

	frame, err := json.Marshal(Message{
		Type:      "order_update",
		Topic:     TopicOrders,
		Data:      json.RawMessage(payload),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
		return
	}

	specific := orderTopic(evt.OrderHash)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.topics[TopicOrders] && !client.topics[specific] {
			continue
		}
		select {
		case client.send <- frame:
		default:
			// Client is slow or disconnected.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients()
		}
	}
}

func (h *Hub) cleanupInactiveClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-60 * time.Second)

	for client := range h.clients {
		if client.lastActive.Before(cutoff) {
			delete(h.clients, client)
			close(client.send)
			h.logger.Debugw("Cleaned up inactive client")
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the connection and registers the client. Clients
// start with no subscriptions and send a SubscriptionRequest to pick topics.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		topics:     make(map[string]bool),
		lastActive: time.Now(),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			break
		}

		c.lastActive = time.Now()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued frames into the same write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var sub SubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	switch sub.Type {
	case "subscribe":
		for _, topic := range sub.Topics {
			c.topics[topic] = true
		}
		if sub.OrderHash != "" {
			c.topics[orderTopic(sub.OrderHash)] = true
		}
		c.hub.logger.Debugw("Client subscribed", "topics", sub.Topics, "order_hash", sub.OrderHash)

	case "unsubscribe":
		for _, topic := range sub.Topics {
			delete(c.topics, topic)
		}
		if sub.OrderHash != "" {
			delete(c.topics, orderTopic(sub.OrderHash))
		}
		c.hub.logger.Debugw("Client unsubscribed", "topics", sub.Topics)
	}
}
