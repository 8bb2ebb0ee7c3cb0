package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/swaplane/swaplane-backend/internal/store"
	"go.uber.org/zap"
)

// SSEHandler streams order events as server-sent events for clients that
// cannot hold a websocket open.
type SSEHandler struct {
	cache   *store.Cache
	logger  *zap.SugaredLogger
	origins []string
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger, allowedOrigins []string) *SSEHandler {
	return &SSEHandler{
		cache:   cache,
		logger:  logger,
		origins: allowedOrigins,
	}
}

func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	origin := r.Header.Get("Origin")
	for _, allowed := range h.origins {
		if origin == allowed {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			break
		}
	}
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	h.logger.Debugw("SSE connection established", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Initial event so proxies commit the stream.
	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	pubsub := h.cache.Subscribe(ctx, store.ChannelOrderEvents)
	if pubsub != nil {
		defer pubsub.Close()
		h.streamRedis(ctx, w, flusher, pubsub)
		return
	}

	if h.cache.IsInMemoryMode() {
		local := h.cache.SubscribeLocal(ctx, store.ChannelOrderEvents)
		if local != nil {
			defer local.Close()
			h.streamLocal(ctx, w, flusher, local)
			return
		}
	}

	h.logger.Warnw("No pubsub available; closing SSE stream")
}

func (h *SSEHandler) streamRedis(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				return
			}
			writeSSE(w, flusher, msg.Payload)
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (h *SSEHandler) streamLocal(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, local *store.LocalPubSub) {
	ch := local.Channel()
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				return
			}
			writeSSE(w, flusher, msg.Payload)
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload string) {
	fmt.Fprintf(w, "event: order_update\ndata: %s\n\n", payload)
	flusher.Flush()
}
