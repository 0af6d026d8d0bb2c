// Package server is the HTTP surface over the gateway core: the
// OpenAI-compatible completion endpoints plus management endpoints for
// keys, connections, routes and webhooks.
package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pulselabs/pulse/internal/entitlement"
	"github.com/pulselabs/pulse/internal/gateway"
	"github.com/pulselabs/pulse/internal/store"
	"github.com/pulselabs/pulse/internal/vault"
)

// Server holds dependencies for the HTTP server.
type Server struct {
	Router chi.Router

	gateway      *gateway.Gateway
	store        store.Store
	vault        *vault.Vault
	entitlements *entitlement.Service

	// adminKey authorizes the management endpoints.
	adminKey string
}

// Config holds dependencies for creating a Server.
type Config struct {
	Gateway  *gateway.Gateway
	Store    store.Store
	Vault    *vault.Vault
	AdminKey string
}

// New creates a chi router with all routes configured.
func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	s := &Server{
		Router:       r,
		gateway:      cfg.Gateway,
		store:        cfg.Store,
		vault:        cfg.Vault,
		entitlements: entitlement.New(cfg.Store),
		adminKey:     cfg.AdminKey,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := s.Router

	r.Get("/health", s.Health)

	// OpenAI-compatible API. The gateway key travels in the Authorization
	// header; auth itself happens inside the gateway core.
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.ChatCompletion)
		r.Post("/responses", s.ChatCompletion)

		// Management endpoints, admin-key gated.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Route("/keys", func(r chi.Router) {
				r.Post("/", s.CreateKey)
				r.Post("/{id}/rotate", s.RotateKey)
				r.Delete("/{id}", s.RevokeKey)
			})
			r.Post("/connections", s.CreateConnection)
			r.Route("/routes", func(r chi.Router) {
				r.Post("/", s.CreateRoute)
				r.Patch("/{id}", s.SetRouteEnabled)
			})
			r.Post("/webhooks", s.CreateWebhook)
		})
	})
}

// requireAdmin gates management endpoints behind the deployment admin key.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("x-admin-key")
		if s.adminKey == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin key required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
