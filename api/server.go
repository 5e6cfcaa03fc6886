/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for mobile/web clients

ROUTE GROUPS:
  /api/accounts/*   Credit balance and ledger history
  /api/bookings/*   Booking lifecycle
  /api/templates/*  Recurring subscriptions
  /api/admin/*      Manual sweep triggers
  /metrics          Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/escrowd/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/{id}/purchase", h.PurchaseCredits)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/entries", h.GetEntries)
		})

		// Booking lifecycle routes
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/respond", h.RespondToBooking)
			r.Post("/{id}/checkin", h.CheckIn)
			r.Post("/{id}/checkout", h.CheckOut)
			r.Post("/{id}/completion", h.SubmitCompletion)
			r.Post("/{id}/approve", h.ApprovePayment)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/dispute", h.FileDispute)
			r.Post("/{id}/resolve", h.ResolveDispute)
		})

		// Recurring template routes
		r.Route("/templates", func(r chi.Router) {
			r.Post("/", h.CreateTemplate)
			r.Post("/{id}/deactivate", h.DeactivateTemplate)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweeps/settlement", h.RunSettlementSweep)
			r.Post("/sweeps/expiry", h.RunExpirySweep)
			r.Post("/sweeps/recurring", h.RunRecurringSweep)
		})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	return r
}
