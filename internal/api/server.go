// Package api exposes the campaign control plane over HTTP: campaign CRUD,
// lifecycle actions, queue preview, and the per-tenant SSE event stream.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/blast-orchestrator/internal/emitter"
	"github.com/ignite/blast-orchestrator/internal/runner"
	"github.com/ignite/blast-orchestrator/internal/service/campaign"
	"github.com/ignite/blast-orchestrator/internal/transport"
	"github.com/ignite/blast-orchestrator/internal/validation"
)

// Server bundles the handlers with their dependencies.
type Server struct {
	svc *campaign.Service
	mgr *runner.Manager
	hub *emitter.Hub

	// Set via SetValidation; nil disables the /api/validation endpoints.
	cache     *validation.Cache
	transport transport.ChatTransport
	baseCtx   context.Context

	allowedOrigins []string
}

// NewServer creates the HTTP server façade.
func NewServer(svc *campaign.Service, mgr *runner.Manager, hub *emitter.Hub, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	return &Server{svc: svc, mgr: mgr, hub: hub, allowedOrigins: allowedOrigins}
}

// Routes builds the router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.hub.ServeSSE)

		if s.cache != nil && s.transport != nil {
			r.Route("/validation", func(r chi.Router) {
				r.Post("/prevalidate", s.handlePrevalidate)
				r.Post("/warm", s.handleWarm)
			})
		}

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/", s.handleList)

			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Get("/next", s.handleNext)
				r.Post("/start", s.handleStart)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/stop", s.handleStop)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
