package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"strings"

	"parcelproof/internal/events"
	"parcelproof/internal/geofence"
	"parcelproof/internal/handover/models"
	"parcelproof/internal/handover/ports"
	"parcelproof/internal/parcel"
	"parcelproof/internal/platform/tracer"
	"parcelproof/internal/signing"
	"parcelproof/internal/token"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/platform/sentinel"
)

var (
	errEmptyPhoto        = errors.New("captured photo is empty")
	errEmptyUploadURL    = errors.New("uploader returned no url")
	errNoScannedToken    = errors.New("no token scanned")
	errTokenParties      = errors.New("token parties do not match the package")
	errTokenTerms        = errors.New("token terms do not match the package")
	errUnverifiable      = errors.New("signature does not verify against the actor identity")
	errMissingSettlement = errors.New("verified delivery stored without a settlement")
)

// attempt carries one run through the state machine. It is confined to the
// goroutine that called StartPickup or StartDelivery.
type attempt struct {
	svc     *Service
	kind    events.Kind
	pkg     *parcel.Descriptor
	actor   models.Actor
	opts    models.Options
	span    tracer.Span
	signer  signing.Signer
	tok     *token.Token
	outcome *models.Outcome
}

func newAttempt(s *Service, kind events.Kind, pkg *parcel.Descriptor, actor models.Actor, opts models.Options, span tracer.Span) *attempt {
	return &attempt{
		svc:     s,
		kind:    kind,
		pkg:     pkg,
		actor:   actor,
		opts:    opts,
		span:    span,
		outcome: &models.Outcome{Kind: kind, State: models.StateIdle},
	}
}

func (a *attempt) advance(to models.State) {
	a.outcome.Transitions = append(a.outcome.Transitions, models.Transition{
		From: a.outcome.State,
		To:   to,
		At:   a.svc.now().UTC(),
	})
	a.outcome.State = to
	a.span.AddEvent(tracer.EventTransition, tracer.String(tracer.AttrState, string(to)))
	a.svc.incrementTransition(a.kind, to)
}

func (a *attempt) reject(rej *models.Rejection) {
	a.outcome.Rejection = rej
	a.advance(models.StateRejected)
}

// expected is the coordinate the actor must be near for this leg. Deliveries
// use the coordinate the sender signed into the token.
func (a *attempt) expected() geofence.Coordinate {
	if a.kind == events.KindDelivery {
		return a.tok.DeliveryLocation
	}
	return a.pkg.PickupLocation
}

func (a *attempt) condition() events.Condition {
	if a.kind == events.KindDelivery && a.opts.Condition == events.ConditionNone {
		return events.ConditionIntact
	}
	return a.opts.Condition
}

func (s *Service) execute(ctx context.Context, a *attempt, scanned []byte) error {
	if err := s.authorize(ctx, a); err != nil {
		return err
	}

	fix, err := s.acquireLocation(ctx, a)
	if err != nil {
		return err
	}
	a.advance(models.StateLocationAcquired)

	evidence, err := s.captureEvidence(ctx, a)
	if err != nil {
		return err
	}
	a.advance(models.StateEvidenceCaptured)

	tok, digest, err := s.resolveToken(ctx, a, scanned)
	if err != nil {
		return err
	}
	a.tok = tok
	a.advance(models.StateTokenResolved)

	rec, err := s.signRecord(ctx, a, fix, evidence, digest)
	if err != nil {
		return err
	}
	a.advance(models.StateSigned)

	appended, err := s.persist(ctx, a, rec)
	if err != nil {
		return err
	}
	a.advance(models.StatePersisted)

	return s.conclude(ctx, a, appended)
}

// authorize obtains the actor's signer before any device interaction so a
// locked key or the wrong party fails before the user is asked for a photo.
func (s *Service) authorize(ctx context.Context, a *attempt) error {
	signer, err := s.signers.Signer(ctx, a.actor.UserID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeKeyUnavailable) || errors.Is(err, signing.ErrKeyUnavailable) {
			return models.Reject(models.ReasonSignatureUnavailable, err)
		}
		return err
	}
	a.signer = signer

	switch a.kind {
	case events.KindPickup:
		if signer.DID() != a.pkg.Sender {
			return dErrors.New(dErrors.CodeForbidden, "only the package sender may record a pickup")
		}
	case events.KindDelivery:
		if signer.DID() != a.pkg.Custodian {
			return dErrors.New(dErrors.CodeForbidden, "only the package custodian may record a delivery")
		}
	}
	return nil
}

func (s *Service) acquireLocation(ctx context.Context, a *attempt) (ports.Fix, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.locationTimeout)
	defer cancel()
	stepCtx, span := s.tracer.Start(stepCtx, tracer.SpanLocation)

	fix, err := await(stepCtx, s, a, models.StepLocation, a.actor.Location.CurrentLocation)
	if err == nil {
		err = validateFix(fix)
	}
	if err == nil {
		span.SetAttributes(tracer.String(tracer.AttrAccuracyClass, string(geofence.Classify(fix.AccuracyMeters))))
	}
	span.End(err)

	if err != nil {
		if ctx.Err() != nil {
			return ports.Fix{}, ctx.Err()
		}
		return ports.Fix{}, models.Reject(models.ReasonNoLocation, err)
	}
	return fix, nil
}

func validateFix(fix ports.Fix) error {
	if err := fix.Coordinate.Validate(); err != nil {
		return err
	}
	if math.IsNaN(fix.AccuracyMeters) || math.IsInf(fix.AccuracyMeters, 0) || fix.AccuracyMeters < 0 {
		return dErrors.New(dErrors.CodeValidation, "location accuracy must be a non-negative number")
	}
	return nil
}

func (s *Service) captureEvidence(ctx context.Context, a *attempt) (events.Evidence, error) {
	stepCtx, span := s.tracer.Start(ctx, tracer.SpanEvidence)
	evidence, err := s.evidence(stepCtx, a)
	span.End(err)

	if err != nil {
		if ctx.Err() != nil {
			return events.Evidence{}, ctx.Err()
		}
		return events.Evidence{}, models.Reject(models.ReasonNoEvidence, err)
	}
	return evidence, nil
}

// evidence captures and uploads the photo. Capture is paced by the user and
// bounded only by ctx; the upload has its own deadline.
func (s *Service) evidence(ctx context.Context, a *attempt) (events.Evidence, error) {
	photo, err := a.actor.Camera.CapturePhoto(ctx)
	if err != nil {
		return events.Evidence{}, err
	}
	if len(photo.Bytes) == 0 {
		return events.Evidence{}, errEmptyPhoto
	}
	sum := sha256.Sum256(photo.Bytes)

	uploadCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()
	url, err := await(uploadCtx, s, a, models.StepUpload, func(ctx context.Context) (string, error) {
		return s.uploader.Upload(ctx, photo.Bytes, photo.ContentType)
	})
	if err != nil {
		return events.Evidence{}, err
	}
	if url == "" {
		return events.Evidence{}, errEmptyUploadURL
	}
	return events.Evidence{URL: url, SHA256: hex.EncodeToString(sum[:])}, nil
}

func (s *Service) resolveToken(ctx context.Context, a *attempt, scanned []byte) (*token.Token, string, error) {
	stepCtx, span := s.tracer.Start(ctx, tracer.SpanToken)
	tok, err := s.token(stepCtx, a, scanned)
	var digest string
	if err == nil {
		digest, err = tok.Digest()
		if err != nil {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to digest package token")
		}
	}
	span.End(err)
	return tok, digest, err
}

// token mints on pickup. On delivery it validates the scanned token against
// the package and the registry's latest published token.
func (s *Service) token(ctx context.Context, a *attempt, scanned []byte) (*token.Token, error) {
	if a.kind == events.KindPickup {
		tok, err := s.tokens.Mint(ctx, a.pkg, a.signer)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeKeyUnavailable) {
				return nil, models.Reject(models.ReasonSignatureUnavailable, err)
			}
			return nil, err
		}
		return tok, nil
	}

	if len(scanned) == 0 {
		return nil, models.RejectToken(token.ReasonMalformedEncoding, errNoScannedToken)
	}
	tok, err := s.tokens.ValidateIssued(ctx, scanned, a.pkg.ID)
	if err != nil {
		if reason, ok := token.ReasonOf(err); ok {
			return nil, models.RejectToken(reason, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.Reject(models.ReasonStoreUnavailable, err)
	}
	if tok.Sender != a.pkg.Sender || tok.Custodian != a.pkg.Custodian {
		return nil, models.RejectToken(token.ReasonPackageMismatch, errTokenParties)
	}
	if tok.Destination != a.pkg.Destination || tok.DeclaredValue != a.pkg.DeclaredValue ||
		tok.DeliveryLocation != a.pkg.DeliveryLocation {
		return nil, models.RejectToken(token.ReasonPackageMismatch, errTokenTerms)
	}
	return tok, nil
}

func (s *Service) signRecord(ctx context.Context, a *attempt, fix ports.Fix, evidence events.Evidence, digest string) (*events.Record, error) {
	_, span := s.tracer.Start(ctx, tracer.SpanSign)
	rec, err := s.sign(a, fix, evidence, digest)
	if rec != nil {
		span.SetAttributes(
			tracer.Float64(tracer.AttrDistanceMeters, rec.DistanceMeters),
			tracer.String(tracer.AttrAccuracyClass, string(rec.AccuracyClass)),
			tracer.Bool(tracer.AttrOverride, rec.Override),
		)
	}
	span.End(err)
	return rec, err
}

// sign builds the record and signs it. Failing the geofence does not stop
// signing; the record carries verified=false unless the actor overrode it.
// An override is only recorded when it changed the outcome.
func (s *Service) sign(a *attempt, fix ports.Fix, evidence events.Evidence, digest string) (*events.Record, error) {
	result := geofence.VerifyWithin(a.expected(), fix.Coordinate, s.radius)
	rec := &events.Record{
		PackageID:      a.pkg.ID,
		Kind:           a.kind,
		Actor:          a.signer.DID(),
		Observed:       fix.Coordinate,
		AccuracyMeters: fix.AccuracyMeters,
		DistanceMeters: result.DistanceMeters,
		RadiusMeters:   result.RadiusMeters,
		AccuracyClass:  geofence.Classify(fix.AccuracyMeters),
		Evidence:       evidence,
		Condition:      a.condition(),
		TokenDigest:    digest,
		Timestamp:      s.now().UTC().Truncate(events.TimestampPrecision),
	}
	if !result.Verified && a.opts.Override != nil {
		rec.Override = true
		rec.OverrideReason = strings.TrimSpace(a.opts.Override.Reason)
	}
	rec.Verified = rec.ExpectedVerified()
	s.observeDistance(a.kind, rec.DistanceMeters)

	if err := rec.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "verification record is incomplete")
	}
	if _, err := rec.AssignID(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive record id")
	}
	payload, err := events.SigningPayload(rec)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode verification record")
	}
	sig, err := a.signer.Sign(payload)
	if err != nil {
		return nil, models.Reject(models.ReasonSignatureUnavailable, err)
	}
	rec.Signature = sig
	if !rec.Trusted() {
		return nil, models.Reject(models.ReasonSignatureUnavailable, errUnverifiable)
	}
	return rec, nil
}

// persist appends the record. A verified delivery settles the value the
// sender signed into the token.
func (s *Service) persist(ctx context.Context, a *attempt, rec *events.Record) (*events.Appended, error) {
	stepCtx, span := s.tracer.Start(ctx, tracer.SpanAppend)
	var st *events.Settlement
	if a.kind == events.KindDelivery && rec.Verified {
		st = events.NewSettlement(rec, a.tok.DeclaredValue, s.now().UTC().Truncate(events.TimestampPrecision))
	}
	appended, err := s.store.Append(stepCtx, rec, st)
	if err != nil {
		err = translateAppendErr(err)
	} else {
		span.SetAttributes(tracer.Bool(tracer.AttrDuplicate, appended.Duplicate))
	}
	span.End(err)
	return appended, err
}

func translateAppendErr(err error) error {
	switch {
	case errors.Is(err, events.ErrAlreadySettled):
		return models.Reject(models.ReasonAlreadySettled, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sentinel.ErrConflict):
		return models.Reject(models.ReasonStoreConflict, err)
	default:
		return models.Reject(models.ReasonStoreUnavailable, err)
	}
}

// conclude decides the terminal state from what was persisted. A pickup stays
// Persisted once its token is published; only a verified delivery settles.
func (s *Service) conclude(ctx context.Context, a *attempt, appended *events.Appended) error {
	tok := a.tok
	rec := appended.Record
	a.outcome.Record = rec
	a.outcome.Duplicate = appended.Duplicate
	if !rec.Verified {
		return models.RejectGeofence(rec.DistanceMeters, rec.RadiusMeters)
	}

	if a.kind == events.KindPickup {
		if err := s.tokens.Publish(ctx, tok); err != nil {
			return models.Reject(models.ReasonStoreUnavailable, err)
		}
		encoded, err := token.Encode(tok)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode package token")
		}
		a.outcome.Token = tok
		a.outcome.EncodedToken = encoded
		return nil
	}

	if appended.Settlement == nil {
		return models.Reject(models.ReasonStoreConflict, errMissingSettlement)
	}
	a.outcome.Settlement = appended.Settlement
	a.advance(models.StateSettled)
	return nil
}
