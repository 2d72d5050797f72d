// Package api exposes the booking policy engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opencourt/courtyard/internal/booking"
	"github.com/opencourt/courtyard/internal/domain"
	"github.com/opencourt/courtyard/internal/rules"
	"github.com/opencourt/courtyard/internal/strikes"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, service *booking.Service, custom *rules.CustomEngine, tracker *strikes.Tracker, version string) *Server {
	handler := NewHandler(repo, cache, bus, service, custom, tracker, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no facility required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (facility required)
	router.Route("/", func(r chi.Router) {
		r.Use(FacilityMiddleware)

		// Booking pipeline
		r.Post("/evaluate", handler.Evaluate)
		r.Post("/bookings", handler.CreateBooking)
		r.Get("/bookings/{id}", handler.GetBooking)
		r.Post("/bookings/{id}/cancel", handler.CancelBooking)

		// Rule catalog and facility overrides
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/effective", handler.EffectiveRules)
		r.Post("/rules/bulk", handler.BulkSetRules)
		r.Put("/rules/{code}", handler.PutRule)
		r.Delete("/rules/{code}", handler.DeleteRule)

		// Custom advisory rules
		r.Post("/rules/custom", handler.CreateCustomRule)
		r.Get("/rules/custom", handler.ListCustomRules)
		r.Delete("/rules/custom/{id}", handler.DeleteCustomRule)

		// Facility settings
		r.Get("/settings", handler.GetSettings)
		r.Put("/settings", handler.PutSettings)

		// Membership tiers
		r.Post("/tiers", handler.CreateTier)
		r.Get("/tiers", handler.ListTiers)
		r.Post("/tiers/assign", handler.AssignTier)

		// Households
		r.Post("/households", handler.CreateHousehold)
		r.Post("/households/{id}/members", handler.AddHouseholdMember)

		// Strike ledger
		r.Post("/strikes", handler.CreateStrike)
		r.Get("/strikes", handler.ListStrikes)
		r.Get("/strikes/status", handler.LockoutStatus)
		r.Post("/strikes/{id}/revoke", handler.RevokeStrike)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
