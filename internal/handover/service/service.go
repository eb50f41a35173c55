// Package service runs pickup and delivery attempts through the handover state
// machine: location, evidence, token, signature, append and settlement.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"parcelproof/internal/audit"
	"parcelproof/internal/events"
	"parcelproof/internal/geofence"
	"parcelproof/internal/handover/metrics"
	"parcelproof/internal/handover/models"
	"parcelproof/internal/handover/ports"
	"parcelproof/internal/parcel"
	"parcelproof/internal/platform/tracer"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/platform/sentinel"
)

const (
	DefaultLocationTimeout  = 15 * time.Second
	DefaultUploadTimeout    = 30 * time.Second
	DefaultStillTryingAfter = 3 * time.Second
	// MaxOverrideReasonLength bounds the free-text override reason.
	MaxOverrideReasonLength = 500
)

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

type Service struct {
	signers  ports.SignerSource
	tokens   ports.TokenService
	store    ports.EventStore
	uploader ports.Uploader

	radius           float64
	locationTimeout  time.Duration
	uploadTimeout    time.Duration
	stillTryingAfter time.Duration
	now              func() time.Time

	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
	tracer  tracer.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRadius sets the geofence radius in meters. Non-positive values keep the default.
func WithRadius(meters float64) Option {
	return func(s *Service) {
		if meters > 0 {
			s.radius = meters
		}
	}
}

func WithLocationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.locationTimeout = d
		}
	}
}

func WithUploadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.uploadTimeout = d
		}
	}
}

// WithStillTryingAfter sets how long a step may wait before progress is reported.
func WithStillTryingAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stillTryingAfter = d
		}
	}
}

func NewService(signers ports.SignerSource, tokens ports.TokenService, store ports.EventStore, uploader ports.Uploader, opts ...Option) *Service {
	svc := &Service{
		signers:          signers,
		tokens:           tokens,
		store:            store,
		uploader:         uploader,
		radius:           geofence.DefaultRadiusMeters,
		locationTimeout:  DefaultLocationTimeout,
		uploadTimeout:    DefaultUploadTimeout,
		stillTryingAfter: DefaultStillTryingAfter,
		now:              time.Now,
		tracer:           tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// StartPickup records the sender handing pkg over at the pickup location and
// mints the package token. The token is published only when the pickup record
// is persisted as verified.
//
// A rejected attempt returns both the outcome and a *models.Rejection. Invalid
// input and authorization failures return a nil outcome.
func (s *Service) StartPickup(ctx context.Context, pkg *parcel.Descriptor, actor models.Actor, opts models.Options) (*models.Outcome, error) {
	return s.run(ctx, events.KindPickup, pkg, actor, nil, opts)
}

// StartDelivery records the custodian handing pkg over at the destination.
// scanned is the wire form of the token presented by the recipient. A verified
// delivery emits exactly one settlement instruction per package.
func (s *Service) StartDelivery(ctx context.Context, pkg *parcel.Descriptor, actor models.Actor, scanned []byte, opts models.Options) (*models.Outcome, error) {
	return s.run(ctx, events.KindDelivery, pkg, actor, scanned, opts)
}

// IssueTokenPayload returns the wire form of the latest token published for
// the package, for display as a scannable code.
func (s *Service) IssueTokenPayload(ctx context.Context, packageID id.PackageID) ([]byte, error) {
	if _, err := id.ParsePackageID(string(packageID)); err != nil {
		return nil, err
	}
	return s.tokens.Latest(ctx, packageID)
}

// History returns every record stored for the package and its settlement, if any.
func (s *Service) History(ctx context.Context, packageID id.PackageID) (*models.History, error) {
	if _, err := id.ParsePackageID(string(packageID)); err != nil {
		return nil, err
	}
	records, err := s.store.ListByPackage(ctx, packageID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read verification records")
	}
	st, err := s.store.SettlementForPackage(ctx, packageID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read settlement")
	}
	return &models.History{PackageID: packageID, Records: records, Settlement: st}, nil
}

func (s *Service) run(ctx context.Context, kind events.Kind, pkg *parcel.Descriptor, actor models.Actor, scanned []byte, opts models.Options) (*models.Outcome, error) {
	if err := checkRequest(kind, pkg, actor, opts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spanName := tracer.SpanHandoverPickup
	if kind == events.KindDelivery {
		spanName = tracer.SpanHandoverDelivery
	}
	ctx, span := s.tracer.Start(ctx, spanName,
		tracer.String(tracer.AttrPackageID, string(pkg.ID)),
		tracer.String(tracer.AttrKind, string(kind)),
		tracer.Bool(tracer.AttrOverride, opts.Override != nil),
	)

	a := newAttempt(s, kind, pkg, actor, opts, span)
	err := s.execute(ctx, a, scanned)
	if err == nil {
		span.SetAttributes(tracer.String(tracer.AttrState, string(a.outcome.State)))
		span.End(nil)
		s.observeCompleted(ctx, a)
		return a.outcome, nil
	}

	if rej, ok := models.AsRejection(err); ok {
		a.reject(rej)
		span.SetAttributes(
			tracer.String(tracer.AttrState, string(models.StateRejected)),
			tracer.String(tracer.AttrReason, string(rej.Reason)),
		)
		span.End(rej)
		s.observeRejected(ctx, a, rej)
		return a.outcome, rej
	}
	span.End(err)
	s.logger.WarnContext(ctx, "handover attempt aborted",
		"package_id", string(pkg.ID),
		"kind", string(kind),
		"state", string(a.outcome.State),
		"error", err,
	)
	return nil, err
}

// checkRequest validates input that no collaborator is needed for.
func checkRequest(kind events.Kind, pkg *parcel.Descriptor, actor models.Actor, opts models.Options) error {
	if err := pkg.Validate(); err != nil {
		return err
	}
	if actor.UserID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}
	if actor.Location == nil || actor.Camera == nil {
		return dErrors.New(dErrors.CodeBadRequest, "location provider and camera are required")
	}
	if opts.Override != nil {
		reason := strings.TrimSpace(opts.Override.Reason)
		if reason == "" {
			return dErrors.New(dErrors.CodeValidation, "proximity override requires a reason")
		}
		if len(reason) > MaxOverrideReasonLength {
			return dErrors.New(dErrors.CodeValidation, "proximity override reason is too long")
		}
	}
	if !opts.Condition.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "condition must be intact or damaged")
	}
	if kind == events.KindPickup && opts.Condition != events.ConditionNone {
		return dErrors.New(dErrors.CodeValidation, "condition applies to deliveries only")
	}
	return nil
}
