package service

import (
	"context"

	"parcelproof/internal/audit"
	"parcelproof/internal/identity/models"
	"parcelproof/internal/signing"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/requestcontext"
)

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, identity *models.Identity, reason string) {
	requestID := requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, string(event),
		"user_id", identity.UserID.String(),
		"did", identity.DID.String(),
		"storage", string(identity.Storage),
		"request_id", requestID,
		"log_type", "audit",
	)
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		UserID:    identity.UserID.String(),
		Subject:   identity.DID.String(),
		Action:    string(event),
		Reason:    reason,
		Device:    requestcontext.Device(ctx),
		RequestID: requestID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}

// reportDegraded makes software key storage impossible to miss.
func (s *Service) reportDegraded(ctx context.Context, identity *models.Identity) {
	s.logger.WarnContext(ctx, "DEGRADED KEY STORAGE: identity key stored unencrypted in software vault",
		"user_id", identity.UserID.String(),
		"did", identity.DID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.IncrementDegradedKeyStorage()
	}
	s.logAudit(ctx, audit.EventKeyStorageDegraded, identity, "sealed_vault_unavailable")
}

func (s *Service) keyUnavailable(ctx context.Context, userID id.UserID, cause string, err error) error {
	s.logger.WarnContext(ctx, "signing key unavailable",
		"user_id", userID.String(),
		"cause", cause,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.IncrementSignerUnavailable(cause)
	}
	return &dErrors.Error{
		Code:    dErrors.CodeKeyUnavailable,
		Message: "signing key unavailable: " + cause,
		Err:     signing.ErrKeyUnavailable,
	}
}

func (s *Service) incrementIdentitiesCreated(storage string) {
	if s.metrics != nil {
		s.metrics.IncrementIdentitiesCreated(storage)
	}
}

func (s *Service) incrementIdentitiesDeleted() {
	if s.metrics != nil {
		s.metrics.IncrementIdentitiesDeleted()
	}
}

func (s *Service) incrementPublicKeyResolution(result string) {
	if s.metrics != nil {
		s.metrics.IncrementPublicKeyResolution(result)
	}
}
