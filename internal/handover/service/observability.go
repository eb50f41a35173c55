package service

import (
	"context"
	"time"

	"parcelproof/internal/audit"
	"parcelproof/internal/events"
	"parcelproof/internal/handover/models"
	"parcelproof/pkg/platform/privacy"
	"parcelproof/pkg/requestcontext"
)

func (s *Service) observeCompleted(ctx context.Context, a *attempt) {
	if s.metrics != nil {
		s.metrics.IncrementAttempt(string(a.kind), string(a.outcome.State))
	}
	rec := a.outcome.Record
	s.logAudit(ctx, audit.EventHandoverRecorded, a, audit.DecisionGranted, "")
	if rec.Override {
		s.observeOverride(ctx, a)
	}
	if a.kind == events.KindPickup && a.outcome.Token != nil {
		s.logAudit(ctx, audit.EventTokenMinted, a, audit.DecisionGranted, "")
	}
	if st := a.outcome.Settlement; st != nil && !a.outcome.Duplicate {
		if s.metrics != nil {
			s.metrics.IncrementSettlement(st.AutoVerified)
		}
		s.logAudit(ctx, audit.EventSettlementEmitted, a, audit.DecisionGranted, "")
	}
}

func (s *Service) observeOverride(ctx context.Context, a *attempt) {
	rec := a.outcome.Record
	s.logger.WarnContext(ctx, "proximity override recorded",
		"package_id", string(a.pkg.ID),
		"kind", string(a.kind),
		"actor_did", string(rec.Actor),
		"distance_m", rec.DistanceMeters,
		"radius_m", rec.RadiusMeters,
		"observed_lat", privacy.CoarsenCoordinate(rec.Observed.Latitude),
		"observed_lon", privacy.CoarsenCoordinate(rec.Observed.Longitude),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.IncrementOverride(string(a.kind))
	}
	s.logAudit(ctx, audit.EventProximityOverride, a, audit.DecisionGranted, rec.OverrideReason)
}

func (s *Service) observeRejected(ctx context.Context, a *attempt, rej *models.Rejection) {
	if s.metrics != nil {
		s.metrics.IncrementAttempt(string(a.kind), string(models.StateRejected))
		s.metrics.IncrementRejection(string(a.kind), string(rej.Reason))
	}
	s.logger.InfoContext(ctx, "handover rejected",
		"package_id", string(a.pkg.ID),
		"kind", string(a.kind),
		"reason", string(rej.Reason),
		"token_reason", string(rej.TokenReason),
		"distance_m", rej.DistanceMeters,
		"error", rej.Err,
		"request_id", requestcontext.RequestID(ctx),
	)
	reason := string(rej.Reason)
	if rej.TokenReason != "" {
		reason += ":" + string(rej.TokenReason)
	}
	s.logAudit(ctx, audit.EventHandoverRejected, a, audit.DecisionDenied, reason)
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, a *attempt, decision, reason string) {
	requestID := requestcontext.RequestID(ctx)
	subject := ""
	if a.signer != nil {
		subject = a.signer.DID().String()
	}
	s.logger.InfoContext(ctx, string(event),
		"package_id", string(a.pkg.ID),
		"kind", string(a.kind),
		"user_id", a.actor.UserID.String(),
		"actor_did", subject,
		"decision", decision,
		"reason", reason,
		"request_id", requestID,
		"log_type", "audit",
	)
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		UserID:    a.actor.UserID.String(),
		Subject:   subject,
		Action:    string(event),
		PackageID: string(a.pkg.ID),
		Decision:  decision,
		Reason:    reason,
		Device:    requestcontext.Device(ctx),
		RequestID: requestID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}

func (s *Service) incrementTransition(kind events.Kind, to models.State) {
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(kind), string(to))
	}
}

func (s *Service) incrementStillTrying(step string) {
	if s.metrics != nil {
		s.metrics.IncrementStillTrying(step)
	}
}

func (s *Service) observeStep(step string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveStep(step, d)
	}
}

func (s *Service) observeDistance(kind events.Kind, meters float64) {
	if s.metrics != nil {
		s.metrics.ObserveDistance(string(kind), meters)
	}
}
