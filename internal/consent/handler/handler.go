// Package handler exposes the consent lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"authconsent/internal/auth"
	"authconsent/internal/consent/models"
	"authconsent/internal/consent/service"
	"authconsent/internal/platform/middleware"
	"authconsent/internal/transport/http/shared"
	dErrors "authconsent/pkg/domain-errors"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks authconsent/internal/consent/handler Service

// Service defines the consent operations the handler exposes.
type Service interface {
	Create(ctx context.Context, caller auth.ClientIdentity, idemKey string, req models.CreateRequest) (*service.CreateResult, error)
	StartSCA(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.AuthorizeResponse, error)
	ResolveCallback(ctx context.Context, id uuid.UUID, stateToken string, outcome models.Outcome) (string, error)
	Revoke(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.StatusResponse, error)
	Status(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.StatusResponse, error)
	Get(ctx context.Context, caller auth.ClientIdentity, id uuid.UUID) (*models.DetailResponse, error)
}

// Handler handles consent endpoints.
type Handler struct {
	service  Service
	resolver middleware.IdentityResolver
	logger   *slog.Logger
}

// New creates a consent Handler.
func New(service Service, resolver middleware.IdentityResolver, logger *slog.Logger) *Handler {
	return &Handler{service: service, resolver: resolver, logger: logger}
}

// Register mounts the consent routes. The callback route stays outside the
// auth group: the browser arriving from the SCA flow carries no bearer token,
// only the state token minted at authorize time.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireAuth(h.resolver, h.logger))
		pr.Post("/consents", h.handleCreate)
		pr.Post("/consents/{consentID}/authorize", h.handleAuthorize)
		pr.Post("/consents/{consentID}/revoke", h.handleRevoke)
		pr.Get("/consents/{consentID}/status", h.handleStatus)
		pr.Get("/consents/{consentID}", h.handleGet)
	})
	r.Get("/consents/{consentID}/authorize/callback", h.handleCallback)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := middleware.GetIdentity(ctx)
	if !ok {
		shared.WriteError(ctx, w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		shared.WriteError(ctx, w, dErrors.New(dErrors.CodeBadRequest, "Idempotency-Key header is required"))
		return
	}

	var req models.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(ctx, w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	sanitize(&req)

	result, err := h.service.Create(ctx, caller, idemKey, req)
	if err != nil {
		h.logFailure(ctx, "create consent", err)
		shared.WriteError(ctx, w, err)
		return
	}

	for name, value := range result.Headers {
		w.Header().Set(name, value)
	}
	if result.Replayed {
		w.Header().Set("Idempotency-Replayed", "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, id, err := h.callerAndID(r)
	if err != nil {
		shared.WriteError(ctx, w, err)
		return
	}

	resp, err := h.service.StartSCA(ctx, caller, id)
	if err != nil {
		h.logFailure(ctx, "start sca", err)
		shared.WriteError(ctx, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := consentID(r)
	if err != nil {
		shared.WriteError(ctx, w, err)
		return
	}
	state := r.URL.Query().Get("state")
	outcome := models.Outcome(r.URL.Query().Get("result"))

	redirect, err := h.service.ResolveCallback(ctx, id, state, outcome)
	if err != nil {
		h.logFailure(ctx, "resolve callback", err)
		shared.WriteError(ctx, w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, id, err := h.callerAndID(r)
	if err != nil {
		shared.WriteError(ctx, w, err)
		return
	}

	resp, err := h.service.Revoke(ctx, caller, id)
	if err != nil {
		h.logFailure(ctx, "revoke consent", err)
		shared.WriteError(ctx, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, id, err := h.callerAndID(r)
	if err != nil {
		shared.WriteError(ctx, w, err)
		return
	}

	resp, err := h.service.Status(ctx, caller, id)
	if err != nil {
		h.logFailure(ctx, "consent status", err)
		shared.WriteError(ctx, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, id, err := h.callerAndID(r)
	if err != nil {
		shared.WriteError(ctx, w, err)
		return
	}

	resp, err := h.service.Get(ctx, caller, id)
	if err != nil {
		h.logFailure(ctx, "get consent", err)
		shared.WriteError(ctx, w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) callerAndID(r *http.Request) (auth.ClientIdentity, uuid.UUID, error) {
	caller, ok := middleware.GetIdentity(r.Context())
	if !ok {
		return auth.ClientIdentity{}, uuid.Nil, dErrors.New(dErrors.CodeInternal, "authentication context error")
	}
	id, err := consentID(r)
	if err != nil {
		return auth.ClientIdentity{}, uuid.Nil, err
	}
	return caller, id, nil
}

func consentID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "consentID"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "consent id must be a UUID")
	}
	return id, nil
}

// logFailure keeps handler logging uniform: expected domain failures log at
// WARN, everything else at ERROR.
func (h *Handler) logFailure(ctx context.Context, op string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeTimeout:
		h.logger.ErrorContext(ctx, op+" failed", "error", err)
	default:
		h.logger.WarnContext(ctx, op+" rejected", "error", err)
	}
}
