package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulselabs/pulse/internal/auth"
	"github.com/pulselabs/pulse/internal/entitlement"
	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/provider"
	"github.com/pulselabs/pulse/internal/store"
)

type createKeyRequest struct {
	OrgID               string            `json:"org_id"`
	ExpiresAt           *time.Time        `json:"expires_at,omitempty"`
	Defaults            store.Attribution `json:"defaults,omitempty"`
	AllowedModels       []string          `json:"allowed_models,omitempty"`
	BlockedModels       []string          `json:"blocked_models,omitempty"`
	RPMLimit            int               `json:"rpm_limit,omitempty"`
	DailyCostLimitEUR   *float64          `json:"daily_cost_limit_eur,omitempty"`
	MonthlyCostLimitEUR *float64          `json:"monthly_cost_limit_eur,omitempty"`
}

type keyResponse struct {
	ID     string `json:"id"`
	Prefix string `json:"prefix"`
	// Secret is returned exactly once, at create/rotate time.
	Secret string `json:"secret,omitempty"`
}

// CreateKey handles POST /v1/keys.
func (s *Server) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" {
		badRequest(w, "org_id is required")
		return
	}

	secret, hash, prefix, err := auth.NewSecret()
	if err != nil {
		internalError(w, err)
		return
	}

	key, err := s.store.CreateKey(r.Context(), store.GatewayKey{
		OrgID:               req.OrgID,
		TokenHash:           hash,
		Prefix:              prefix,
		Status:              store.KeyStatusActive,
		Enabled:             true,
		ExpiresAt:           req.ExpiresAt,
		Defaults:            req.Defaults,
		AllowedModels:       req.AllowedModels,
		BlockedModels:       req.BlockedModels,
		RPMLimit:            req.RPMLimit,
		DailyCostLimitEUR:   req.DailyCostLimitEUR,
		MonthlyCostLimitEUR: req.MonthlyCostLimitEUR,
	})
	if err != nil {
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, keyResponse{ID: key.ID, Prefix: key.Prefix, Secret: secret})
}

// RotateKey handles POST /v1/keys/{id}/rotate. The old secret stops working
// immediately; revoked keys cannot be rotated.
func (s *Server) RotateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	secret, hash, prefix, err := auth.NewSecret()
	if err != nil {
		internalError(w, err)
		return
	}

	key, err := s.store.RotateKey(r.Context(), id, hash, prefix)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse{ID: key.ID, Prefix: key.Prefix, Secret: secret})
}

// RevokeKey handles DELETE /v1/keys/{id}. Revocation is terminal.
func (s *Server) RevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RevokeKey(r.Context(), chi.URLParam(r, "id")); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createConnectionRequest struct {
	OrgID    string `json:"org_id"`
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Secret   string `json:"secret"`

	// Probe, when set, test-calls the provider with the secret before the
	// connection is created.
	Probe      bool   `json:"probe,omitempty"`
	ProbeModel string `json:"probe_model,omitempty"`
}

// CreateConnection handles POST /v1/connections.
func (s *Server) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.OrgID == "" || req.Provider == "" || req.Secret == "" {
		badRequest(w, "org_id, provider and secret are required")
		return
	}

	usage, err := s.store.CountConnections(r.Context(), req.OrgID)
	if err != nil {
		internalError(w, err)
		return
	}
	if err := s.entitlements.Assert(r.Context(), req.OrgID, entitlement.FeatureConnections, usage); err != nil {
		writeError(w, err)
		return
	}

	if req.Probe {
		adapter, err := provider.Get(req.Provider)
		if err != nil {
			badRequest(w, "unknown provider "+req.Provider)
			return
		}
		if err := provider.Probe(r.Context(), adapter, req.Secret, req.ProbeModel, provider.DefaultProbeTimeout); err != nil {
			writeError(w, err)
			return
		}
	}

	ciphertext, last4, err := s.vault.Encrypt(req.Secret)
	if err != nil {
		internalError(w, err)
		return
	}

	conn, err := s.store.CreateConnection(r.Context(), store.ProviderConnection{
		OrgID:           req.OrgID,
		Provider:        req.Provider,
		Name:            req.Name,
		Status:          store.ConnectionStatusActive,
		EncryptedSecret: ciphertext,
		SecretLast4:     last4,
	})
	if err != nil {
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":           conn.ID,
		"provider":     conn.Provider,
		"secret_last4": conn.SecretLast4,
	})
}

type createRouteRequest struct {
	OrgID                string   `json:"org_id"`
	Provider             string   `json:"provider"`
	Model                string   `json:"model"`
	Priority             int      `json:"priority"`
	MaxCostPerRequestEUR *float64 `json:"max_cost_per_request_eur,omitempty"`
}

// CreateRoute handles POST /v1/routes.
func (s *Server) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var req createRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.OrgID == "" || req.Provider == "" || req.Model == "" {
		badRequest(w, "org_id, provider and model are required")
		return
	}

	usage, err := s.store.CountRoutes(r.Context(), req.OrgID)
	if err != nil {
		internalError(w, err)
		return
	}
	if err := s.entitlements.Assert(r.Context(), req.OrgID, entitlement.FeatureRoutes, usage); err != nil {
		writeError(w, err)
		return
	}

	route, err := s.store.CreateRoute(r.Context(), store.ModelRoute{
		OrgID:                req.OrgID,
		Provider:             req.Provider,
		Model:                req.Model,
		Priority:             req.Priority,
		Enabled:              true,
		MaxCostPerRequestEUR: req.MaxCostPerRequestEUR,
	})
	if errors.Is(err, store.ErrDuplicateRoute) {
		writeJSON(w, http.StatusConflict, model.ErrorResponse{
			Error: model.ErrorDetail{
				Message: "a route already exists for this (provider, model)",
				Type:    "invalid_request_error",
			},
		})
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": route.ID, "priority": route.Priority})
}

// SetRouteEnabled handles PATCH /v1/routes/{id}.
func (s *Server) SetRouteEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		badRequest(w, "enabled is required")
		return
	}
	if err := s.store.SetRouteEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createWebhookRequest struct {
	OrgID      string   `json:"org_id"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types,omitempty"`
}

// CreateWebhook handles POST /v1/webhooks.
func (s *Server) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.OrgID == "" || req.URL == "" || req.Secret == "" {
		badRequest(w, "org_id, url and secret are required")
		return
	}

	usage, err := s.store.CountWebhooks(r.Context(), req.OrgID)
	if err != nil {
		internalError(w, err)
		return
	}
	if err := s.entitlements.Assert(r.Context(), req.OrgID, entitlement.FeatureWebhooks, usage); err != nil {
		writeError(w, err)
		return
	}

	wh, err := s.store.CreateWebhook(r.Context(), store.Webhook{
		OrgID:      req.OrgID,
		URL:        req.URL,
		Secret:     req.Secret,
		Enabled:    true,
		EventTypes: req.EventTypes,
	})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": wh.ID})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
		Error: model.ErrorDetail{Message: msg, Type: "invalid_request_error"},
	})
}

func internalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
		Error: model.ErrorDetail{Message: err.Error(), Type: "api_error"},
	})
}

func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, model.ErrorResponse{
			Error: model.ErrorDetail{Message: "not found", Type: "invalid_request_error"},
		})
	case errors.Is(err, store.ErrKeyRevoked):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{
			Error: model.ErrorDetail{Message: "key is revoked; revocation is terminal", Type: "invalid_request_error"},
		})
	default:
		internalError(w, err)
	}
}
