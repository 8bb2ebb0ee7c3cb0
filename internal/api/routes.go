package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.Compress)
	r.Use(m.Timeout(30 * time.Second))
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	// v1 API routes
	r.Route("/v1", func(r chi.Router) {
		// Orders
		r.Route("/orders", func(r chi.Router) {
			r.Post("/data", h.GenerateOrderData)
			r.Post("/", h.CreateOrder)
			r.Post("/complete", h.CreateCompleteOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{orderHash}", h.GetOrder)
			r.Patch("/{orderHash}/status", h.UpdateOrderStatus)
		})

		// Secret distribution
		r.Post("/secrets/request", h.RequestSecret)

		// Chain adapters
		r.Route("/chains", func(r chi.Router) {
			r.Get("/", h.ListChains)
			r.Get("/health", h.CheckChains)
		})

		// Live updates
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)
	})

	return r
}
