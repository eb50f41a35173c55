// Package handler exposes the identity key store over HTTP.
package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"parcelproof/internal/identity/models"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/httputil"
	"parcelproof/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the identity operations the handler needs.
type Service interface {
	EnsureIdentity(ctx context.Context, userID id.UserID) (*models.Identity, error)
	LoadIdentity(ctx context.Context, userID id.UserID) (*models.Identity, error)
	DeleteIdentity(ctx context.Context, userID id.UserID) error
}

// Handler handles identity endpoints for the authenticated user.
type Handler struct {
	logger   *slog.Logger
	identity Service
}

func New(identity Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		identity: identity,
	}
}

// Register registers the identity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/identity", h.HandleEnsure)
	r.Get("/v1/identity", h.HandleGet)
	r.Delete("/v1/identity", h.HandleDelete)
}

// IdentityResponse is the public half of the caller's identity.
type IdentityResponse struct {
	UserID    string    `json:"user_id"`
	DID       string    `json:"did"`
	PublicKey string    `json:"public_key"`
	Storage   string    `json:"storage"`
	Degraded  bool      `json:"degraded"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(identity *models.Identity) *IdentityResponse {
	return &IdentityResponse{
		UserID:    identity.UserID.String(),
		DID:       string(identity.DID),
		PublicKey: base64.StdEncoding.EncodeToString(identity.PublicKey),
		Storage:   string(identity.Storage),
		Degraded:  identity.Degraded,
		CreatedAt: identity.CreatedAt,
	}
}

// HandleEnsure returns the caller's identity, generating a keypair on first use.
func (h *Handler) HandleEnsure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := httputil.RequireUserID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.identity.EnsureIdentity(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to ensure identity",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(identity))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := httputil.RequireUserID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.identity.LoadIdentity(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(identity))
}

// HandleDelete destroys the caller's key material. Earlier records keep
// their signatures but the DID stops resolving.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := httputil.RequireUserID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.identity.DeleteIdentity(ctx, userID); err != nil {
		h.logger.WarnContext(ctx, "failed to delete identity",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
