// Package handler exposes pickup, delivery and package history over HTTP.
// The device's fix and photo arrive in the request body and act as the
// location provider and camera for the attempt.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"parcelproof/internal/handover/models"
	"parcelproof/internal/parcel"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/httputil"
	"parcelproof/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the handover operations the handler needs.
type Service interface {
	StartPickup(ctx context.Context, pkg *parcel.Descriptor, actor models.Actor, opts models.Options) (*models.Outcome, error)
	StartDelivery(ctx context.Context, pkg *parcel.Descriptor, actor models.Actor, scanned []byte, opts models.Options) (*models.Outcome, error)
	IssueTokenPayload(ctx context.Context, packageID id.PackageID) ([]byte, error)
	History(ctx context.Context, packageID id.PackageID) (*models.History, error)
}

// Handler handles handover endpoints.
type Handler struct {
	logger   *slog.Logger
	handover Service
}

func New(handover Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		handover: handover,
	}
}

// RegisterHandovers registers the attempt routes.
func (h *Handler) RegisterHandovers(r chi.Router) {
	r.Post("/v1/handovers/pickup", h.HandlePickup)
	r.Post("/v1/handovers/delivery", h.HandleDelivery)
}

// RegisterPackages registers the read-only package routes.
func (h *Handler) RegisterPackages(r chi.Router) {
	r.Get("/v1/packages/{packageID}/token", h.HandleToken)
	r.Get("/v1/packages/{packageID}/events", h.HandleHistory)
}

func (h *Handler) HandlePickup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := httputil.RequireUserID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[PickupRequest](w, r, h.logger)
	if !ok {
		return
	}

	opts := req.options()
	opts.OnProgress = h.progress(ctx)
	outcome, err := h.handover.StartPickup(ctx, req.descriptor(), req.actor(userID), opts)
	h.writeOutcome(w, r, http.StatusCreated, outcome, err)
}

func (h *Handler) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := httputil.RequireUserID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[DeliveryRequest](w, r, h.logger)
	if !ok {
		return
	}

	opts := req.options()
	opts.OnProgress = h.progress(ctx)
	outcome, err := h.handover.StartDelivery(ctx, req.descriptor(), req.actor(userID), req.scanned(), opts)
	h.writeOutcome(w, r, http.StatusCreated, outcome, err)
}

// HandleToken returns the latest published token so the recipient can display it.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	packageID, err := id.ParsePackageID(chi.URLParam(r, "packageID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	raw, err := h.handover.IssueTokenPayload(ctx, packageID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &TokenResponse{
		PackageID: string(packageID),
		Token:     encodeToken(raw),
	})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	packageID, err := id.ParsePackageID(chi.URLParam(r, "packageID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	history, err := h.handover.History(ctx, packageID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read package history",
			"package_id", string(packageID),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toHistoryResponse(history))
}

func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, status int, outcome *models.Outcome, err error) {
	if err == nil {
		if outcome.Duplicate {
			status = http.StatusOK
		}
		httputil.WriteJSON(w, status, toOutcomeResponse(outcome))
		return
	}

	if rej, ok := models.AsRejection(err); ok {
		code := rej.Reason.Code()
		httputil.WriteJSON(w, httputil.DomainCodeToHTTPStatus(code), &RejectionResponse{
			Error:          httputil.DomainCodeToHTTPCode(code),
			Description:    rej.Message(),
			Reason:         rej.Reason,
			TokenReason:    string(rej.TokenReason),
			DistanceMeters: rej.DistanceMeters,
			RadiusMeters:   rej.RadiusMeters,
			Outcome:        toOutcomeResponse(outcome),
		})
		return
	}

	ctx := r.Context()
	if ctx.Err() != nil {
		h.logger.InfoContext(ctx, "handover attempt abandoned by client",
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}
	httputil.WriteError(w, err)
}

func (h *Handler) progress(ctx context.Context) func(models.Progress) {
	return func(p models.Progress) {
		h.logger.InfoContext(ctx, "handover step still waiting",
			"step", p.Step,
			"elapsed_ms", p.Elapsed.Milliseconds(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}
