package service

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"parcelproof/internal/audit"
	"parcelproof/internal/events"
	eventstore "parcelproof/internal/events/store"
	"parcelproof/internal/geofence"
	"parcelproof/internal/handover/models"
	"parcelproof/internal/handover/ports"
	"parcelproof/internal/handover/ports/mocks"
	"parcelproof/internal/parcel"
	"parcelproof/internal/signing"
	"parcelproof/internal/token"
	tokenstore "parcelproof/internal/token/store"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	outboxmemory "parcelproof/pkg/platform/outbox/store/memory"
	"parcelproof/pkg/platform/sentinel"
	"parcelproof/pkg/testutil"
)

const evidenceBase = "https://evidence.test/evidence/"

// ServiceSuite drives the orchestrator against real token, event and outbox
// stores. Device collaborators and the signer source are faked per test.
type ServiceSuite struct {
	suite.Suite
	ctx        context.Context
	ctrl       *gomock.Controller
	signers    *mocks.MockSignerSource
	uploader   *mocks.MockUploader
	directory  *directory
	registry   *tokenstore.InMemoryRegistry
	tokens     *token.Service
	outbox     *outboxmemory.Store
	events     *eventstore.InMemoryStore
	auditStore *audit.InMemoryStore
	service    *Service
	now        time.Time
	sender     *testutil.Party
	custodian  *testutil.Party
	pkg        *parcel.Descriptor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.signers = mocks.NewMockSignerSource(s.ctrl)
	s.uploader = mocks.NewMockUploader(s.ctrl)
	s.now = time.Date(2026, 5, 4, 9, 30, 15, 500_000_000, time.UTC)

	s.sender = testutil.NewParty(s.T())
	s.custodian = testutil.NewParty(s.T())
	s.directory = newDirectory(s.sender, s.custodian)
	s.registry = tokenstore.NewInMemory(tokenstore.WithClock(s.clock))
	s.tokens = token.NewService(s.directory, s.registry, token.WithClock(s.clock))
	s.outbox = outboxmemory.New()
	s.events = eventstore.NewInMemory(s.outbox)
	s.auditStore = audit.NewInMemoryStore()
	s.service = s.newService()
	s.pkg = testutil.NewPackage(s.sender.DID(), s.custodian.DID()).Build()
}

func (s *ServiceSuite) clock() time.Time { return s.now }

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithClock(s.clock),
		WithAuditPublisher(audit.NewPublisher(s.auditStore)),
	}
	return NewService(s.signers, s.tokens, s.events, s.uploader, append(base, opts...)...)
}

// expectParties lets both parties obtain their signers any number of times.
func (s *ServiceSuite) expectParties() {
	s.signers.EXPECT().Signer(gomock.Any(), testutil.TestIDs.Sender).Return(s.sender.Signer, nil).AnyTimes()
	s.signers.EXPECT().Signer(gomock.Any(), testutil.TestIDs.Custodian).Return(s.custodian.Signer, nil).AnyTimes()
}

// expectUploads stores photos under their content hash.
func (s *ServiceSuite) expectUploads() {
	s.uploader.EXPECT().Upload(gomock.Any(), gomock.Any(), "image/jpeg").
		DoAndReturn(func(_ context.Context, data []byte, _ string) (string, error) {
			sum := sha256.Sum256(data)
			return evidenceBase + hex.EncodeToString(sum[:]) + ".jpg", nil
		}).AnyTimes()
}

func (s *ServiceSuite) senderAt(c geofence.Coordinate) models.Actor {
	return models.Actor{UserID: testutil.TestIDs.Sender, Location: at(c), Camera: photo("parcel on the doorstep")}
}

func (s *ServiceSuite) custodianAt(c geofence.Coordinate) models.Actor {
	return models.Actor{UserID: testutil.TestIDs.Custodian, Location: at(c), Camera: photo("parcel at the destination")}
}

// pickup records a verified pickup and returns the published token.
func (s *ServiceSuite) pickup(pkg *parcel.Descriptor) []byte {
	outcome, err := s.service.StartPickup(s.ctx, pkg, s.senderAt(pkg.PickupLocation), models.Options{})
	s.Require().NoError(err)
	return outcome.EncodedToken
}

func (s *ServiceSuite) requireRejection(err error, want models.Reason) *models.Rejection {
	s.T().Helper()
	s.Require().Error(err)
	rej, ok := models.AsRejection(err)
	s.Require().True(ok, "expected a rejection, got %v", err)
	s.Require().Equal(want, rej.Reason)
	return rej
}

func (s *ServiceSuite) auditActions(pkgID id.PackageID) []string {
	evs, err := s.auditStore.ListByPackage(s.ctx, string(pkgID))
	s.Require().NoError(err)
	actions := make([]string, 0, len(evs))
	for _, e := range evs {
		actions = append(actions, e.Action)
	}
	return actions
}

func states(o *models.Outcome) []models.State {
	out := make([]models.State, 0, len(o.Transitions))
	for _, t := range o.Transitions {
		out = append(out, t.To)
	}
	return out
}

func (s *ServiceSuite) TestPickupAtOrigin() {
	s.expectParties()
	s.expectUploads()

	outcome, err := s.service.StartPickup(s.ctx, s.pkg, s.senderAt(s.pkg.PickupLocation), models.Options{})
	s.Require().NoError(err)

	s.Equal(models.StatePersisted, outcome.State)
	s.Equal([]models.State{
		models.StateLocationAcquired,
		models.StateEvidenceCaptured,
		models.StateTokenResolved,
		models.StateSigned,
		models.StatePersisted,
	}, states(outcome))

	rec := outcome.Record
	s.Require().NotNil(rec)
	s.True(rec.Verified)
	s.InDelta(0, rec.DistanceMeters, 1e-9)
	s.Equal(geofence.AccuracyExcellent, rec.AccuracyClass)
	s.Equal(s.sender.DID(), rec.Actor)
	s.True(rec.Trusted())
	sum := sha256.Sum256([]byte("parcel on the doorstep"))
	s.Equal(hex.EncodeToString(sum[:]), rec.Evidence.SHA256)

	s.Require().NotNil(outcome.Token)
	s.Equal(token.DefaultTTL, outcome.Token.ExpiresAt.Sub(outcome.Token.CreatedAt))
	digest, err := outcome.Token.Digest()
	s.Require().NoError(err)
	s.Equal(digest, rec.TokenDigest)

	payload, err := s.service.IssueTokenPayload(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	s.Equal(outcome.EncodedToken, payload)

	s.ElementsMatch([]string{
		string(audit.EventHandoverRecorded),
		string(audit.EventTokenMinted),
	}, s.auditActions(s.pkg.ID))
}

func (s *ServiceSuite) TestPickupOutsideRadiusDoesNotPublishToken() {
	s.expectParties()
	s.expectUploads()

	outcome, err := s.service.StartPickup(s.ctx, s.pkg, s.senderAt(testutil.NorthOf(s.pkg.PickupLocation, 120)), models.Options{})
	rej := s.requireRejection(err, models.ReasonGeofenceFailed)

	s.InDelta(120, rej.DistanceMeters, 0.5)
	s.Require().NotNil(outcome)
	s.False(outcome.Record.Verified)
	s.Nil(outcome.Token)

	_, err = s.service.IssueTokenPayload(s.ctx, s.pkg.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestDeliveryWithinRadiusSettles() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)

	outcome, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(testutil.NorthOf(s.pkg.DeliveryLocation, 30)), scanned, models.Options{})
	s.Require().NoError(err)

	s.Equal(models.StateSettled, outcome.State)
	s.Equal(models.StateSettled, outcome.Transitions[len(outcome.Transitions)-1].To)
	s.True(outcome.Record.Verified)
	s.Equal(events.ConditionIntact, outcome.Record.Condition)

	st := outcome.Settlement
	s.Require().NotNil(st)
	s.Equal(outcome.Record.ID, st.RecordID)
	s.Equal(s.pkg.DeclaredValue, st.Amount)
	s.True(st.AutoVerified)

	entries := s.outbox.All()
	s.Require().Len(entries, 1)
	s.Equal(string(s.pkg.ID), entries[0].AggregateID)
	s.Equal(events.EventTypeSettlement, entries[0].EventType)

	s.Contains(s.auditActions(s.pkg.ID), string(audit.EventSettlementEmitted))
}

func (s *ServiceSuite) TestDeliveryOutsideRadiusIsRecordedUnverified() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)

	outcome, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(testutil.NorthOf(s.pkg.DeliveryLocation, 80)), scanned, models.Options{})
	rej := s.requireRejection(err, models.ReasonGeofenceFailed)

	s.InDelta(80, rej.DistanceMeters, 0.5)
	s.Equal(geofence.DefaultRadiusMeters, rej.RadiusMeters)
	s.Contains(rej.Message(), "80 m")
	s.True(dErrors.HasCode(err, dErrors.CodeRejected))

	s.Require().NotNil(outcome)
	s.Equal(models.StateRejected, outcome.State)
	s.Equal(models.StatePersisted, outcome.Transitions[len(outcome.Transitions)-2].To)
	s.False(outcome.Record.Verified)
	s.True(outcome.Record.Trusted())
	s.Nil(outcome.Settlement)

	records, err := s.events.ListByPackage(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	s.Len(records, 2)
	_, err = s.events.SettlementForPackage(s.ctx, s.pkg.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Empty(s.outbox.All())
	s.Contains(s.auditActions(s.pkg.ID), string(audit.EventHandoverRejected))
}

func (s *ServiceSuite) TestTokenForAnotherPackage() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)
	other := testutil.NewPackage(s.sender.DID(), s.custodian.DID()).Build()
	resolutions := s.directory.calls.Load()

	outcome, err := s.service.StartDelivery(s.ctx, other, s.custodianAt(other.DeliveryLocation), scanned, models.Options{})
	rej := s.requireRejection(err, models.ReasonInvalidToken)

	s.Equal(token.ReasonPackageMismatch, rej.TokenReason)
	s.Equal(resolutions, s.directory.calls.Load(), "issuer must not be resolved for a mismatched package")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	s.Nil(outcome.Record)
	s.Equal(models.StateEvidenceCaptured, outcome.Transitions[len(outcome.Transitions)-2].To)

	records, err := s.events.ListByPackage(s.ctx, other.ID)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *ServiceSuite) TestTokenScannedAfterExpiry() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)
	s.now = s.now.Add(25 * time.Hour)

	outcome, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), scanned, models.Options{})
	rej := s.requireRejection(err, models.ReasonInvalidToken)

	s.Equal(token.ReasonExpired, rej.TokenReason)
	s.Equal(token.ReasonExpired.Message(), rej.Message())
	s.Nil(outcome.Settlement)
	_, err = s.events.SettlementForPackage(s.ctx, s.pkg.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ServiceSuite) TestTokenRules() {
	s.expectParties()
	s.expectUploads()

	s.Run("unpublished token is not issued", func() {
		minted, err := s.tokens.Mint(s.ctx, s.pkg, s.sender.Signer)
		s.Require().NoError(err)
		raw, err := token.Encode(minted)
		s.Require().NoError(err)

		_, err = s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), raw, models.Options{})
		rej := s.requireRejection(err, models.ReasonInvalidToken)
		s.Equal(token.ReasonNotIssued, rej.TokenReason)
	})

	s.Run("empty scan is malformed", func() {
		_, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), nil, models.Options{})
		rej := s.requireRejection(err, models.ReasonInvalidToken)
		s.Equal(token.ReasonMalformedEncoding, rej.TokenReason)
	})

	s.Run("garbage scan is malformed", func() {
		_, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), []byte("not a token"), models.Options{})
		rej := s.requireRejection(err, models.ReasonInvalidToken)
		s.Equal(token.ReasonMalformedEncoding, rej.TokenReason)
	})

	s.Run("custodian swap is a mismatch", func() {
		stranger := testutil.NewParty(s.T())
		pkg := testutil.NewPackage(s.sender.DID(), stranger.DID()).Build()
		scanned := s.pickup(pkg)
		swapped := *pkg
		swapped.Custodian = s.custodian.DID()

		_, err := s.service.StartDelivery(s.ctx, &swapped, s.custodianAt(pkg.DeliveryLocation), scanned, models.Options{})
		rej := s.requireRejection(err, models.ReasonInvalidToken)
		s.Equal(token.ReasonPackageMismatch, rej.TokenReason)
	})
}

func (s *ServiceSuite) TestDescriptorTermsMustMatchToken() {
	s.expectParties()
	s.expectUploads()

	for name, edit := range map[string]func(*parcel.Descriptor){
		"inflated declared value": func(p *parcel.Descriptor) { p.DeclaredValue *= 1000 },
		"changed destination":     func(p *parcel.Descriptor) { p.Destination = "Hafenstrasse 12, Hamburg" },
	} {
		s.Run(name, func() {
			pkg := testutil.NewPackage(s.sender.DID(), s.custodian.DID()).WithValue(4999).Build()
			scanned := s.pickup(pkg)
			edited := *pkg
			edit(&edited)

			outcome, err := s.service.StartDelivery(s.ctx, &edited, s.custodianAt(pkg.DeliveryLocation), scanned, models.Options{})
			rej := s.requireRejection(err, models.ReasonInvalidToken)
			s.Equal(token.ReasonPackageMismatch, rej.TokenReason)
			s.Nil(outcome.Settlement)

			_, err = s.events.SettlementForPackage(s.ctx, pkg.ID)
			s.ErrorIs(err, sentinel.ErrNotFound)
		})
	}
	s.Empty(s.outbox.All())
}

func (s *ServiceSuite) TestMovedDeliveryLocationDoesNotSettle() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)
	moved := *s.pkg
	moved.DeliveryLocation = testutil.NorthOf(s.pkg.DeliveryLocation, 2000)

	outcome, err := s.service.StartDelivery(s.ctx, &moved, s.custodianAt(moved.DeliveryLocation), scanned, models.Options{})
	rej := s.requireRejection(err, models.ReasonInvalidToken)
	s.Equal(token.ReasonPackageMismatch, rej.TokenReason)
	s.Nil(outcome.Record)
	s.Nil(outcome.Settlement)

	_, err = s.events.SettlementForPackage(s.ctx, s.pkg.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Empty(s.outbox.All())
}

func (s *ServiceSuite) TestDeliveryGeofenceUsesSignedCoordinate() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)

	outcome, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(testutil.NorthOf(s.pkg.DeliveryLocation, 2000)), scanned, models.Options{})
	rej := s.requireRejection(err, models.ReasonGeofenceFailed)
	s.InDelta(2000, rej.DistanceMeters, 1)
	s.Nil(outcome.Settlement)
}

// Identical attempts derive the same record id, so every racer after the
// first is an idempotent retry: it succeeds and sees the one settlement.
func (s *ServiceSuite) TestIdenticalConcurrentDeliveriesReplaySettlement() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)
	actor := s.custodianAt(s.pkg.DeliveryLocation)

	const attempts = 8
	outcomes := make([]*models.Outcome, attempts)
	successes, errs := testutil.RunConcurrentCollect(attempts, func(i int) error {
		outcome, err := s.service.StartDelivery(s.ctx, s.pkg, actor, scanned, models.Options{})
		outcomes[i] = outcome
		return err
	})

	s.Equal(int32(attempts), successes)
	s.Empty(errs)
	fresh := 0
	for _, o := range outcomes {
		s.Require().NotNil(o.Settlement)
		s.Equal(models.StateSettled, o.State)
		s.Equal(outcomes[0].Settlement.ID, o.Settlement.ID)
		if !o.Duplicate {
			fresh++
		}
	}
	s.Equal(1, fresh)
	s.Len(s.outbox.All(), 1)
}

func (s *ServiceSuite) TestConcurrentDeliveriesSettleOnce() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)

	const attempts = 10
	var mu sync.Mutex
	reasons := map[models.Reason]int{}
	successes, errs := testutil.RunConcurrentCollect(attempts, func(i int) error {
		actor := s.custodianAt(testutil.NorthOf(s.pkg.DeliveryLocation, float64(i)))
		_, err := s.service.StartDelivery(s.ctx, s.pkg, actor, scanned, models.Options{})
		if rej, ok := models.AsRejection(err); ok {
			mu.Lock()
			reasons[rej.Reason]++
			mu.Unlock()
		}
		return err
	})

	s.Equal(int32(1), successes)
	s.Len(errs, attempts-1)
	s.Equal(map[models.Reason]int{models.ReasonAlreadySettled: attempts - 1}, reasons)
	s.Len(s.outbox.All(), 1)

	st, err := s.events.SettlementForPackage(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	s.Equal(s.pkg.ID, st.PackageID)
}

func (s *ServiceSuite) TestSecondDeliveryAfterSettlement() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)

	_, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), scanned, models.Options{})
	s.Require().NoError(err)

	s.now = s.now.Add(time.Minute)
	outcome, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), scanned, models.Options{})
	s.requireRejection(err, models.ReasonAlreadySettled)
	s.Nil(outcome.Record)
	s.Equal(models.StateSigned, outcome.Transitions[len(outcome.Transitions)-2].To)
}

func (s *ServiceSuite) TestReplayedAttemptIsIdempotent() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)
	actor := s.custodianAt(testutil.NorthOf(s.pkg.DeliveryLocation, 80))

	first, err := s.service.StartDelivery(s.ctx, s.pkg, actor, scanned, models.Options{})
	s.requireRejection(err, models.ReasonGeofenceFailed)
	second, err := s.service.StartDelivery(s.ctx, s.pkg, actor, scanned, models.Options{})
	s.requireRejection(err, models.ReasonGeofenceFailed)

	s.False(first.Duplicate)
	s.True(second.Duplicate)
	s.Equal(first.Record.ID, second.Record.ID)

	records, err := s.events.ListByPackage(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	s.Len(records, 2, "pickup plus one delivery")
}

func (s *ServiceSuite) TestProximityOverride() {
	s.expectParties()
	s.expectUploads()

	s.Run("override outside the radius settles without auto verification", func() {
		pkg := testutil.NewPackage(s.sender.DID(), s.custodian.DID()).Build()
		scanned := s.pickup(pkg)
		opts := models.Options{
			Override:  &models.Override{Reason: "recipient met me at the building entrance"},
			Condition: events.ConditionDamaged,
		}

		outcome, err := s.service.StartDelivery(s.ctx, pkg, s.custodianAt(testutil.NorthOf(pkg.DeliveryLocation, 80)), scanned, opts)
		s.Require().NoError(err)

		s.Equal(models.StateSettled, outcome.State)
		s.True(outcome.Record.Override)
		s.Equal("recipient met me at the building entrance", outcome.Record.OverrideReason)
		s.True(outcome.Record.Verified)
		s.False(outcome.Record.Within())
		s.Equal(events.ConditionDamaged, outcome.Record.Condition)
		s.False(outcome.Settlement.AutoVerified)
		s.Contains(s.auditActions(pkg.ID), string(audit.EventProximityOverride))
	})

	s.Run("override inside the radius is not recorded", func() {
		pkg := testutil.NewPackage(s.sender.DID(), s.custodian.DID()).Build()
		scanned := s.pickup(pkg)
		opts := models.Options{Override: &models.Override{Reason: "just in case"}}

		outcome, err := s.service.StartDelivery(s.ctx, pkg, s.custodianAt(pkg.DeliveryLocation), scanned, opts)
		s.Require().NoError(err)

		s.False(outcome.Record.Override)
		s.Empty(outcome.Record.OverrideReason)
		s.True(outcome.Settlement.AutoVerified)
		s.NotContains(s.auditActions(pkg.ID), string(audit.EventProximityOverride))
	})

	s.Run("override requires a reason", func() {
		opts := models.Options{Override: &models.Override{Reason: "   "}}
		outcome, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), []byte("x"), opts)
		s.Nil(outcome)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestSignatureUnavailable() {
	s.Run("locked key fails before the device is used", func() {
		s.signers.EXPECT().Signer(gomock.Any(), testutil.TestIDs.Sender).
			Return(nil, &dErrors.Error{Code: dErrors.CodeKeyUnavailable, Message: "vault locked", Err: signing.ErrKeyUnavailable})
		actor := s.senderAt(s.pkg.PickupLocation)
		actor.Location = mustNotLocate(s.T())

		outcome, err := s.service.StartPickup(s.ctx, s.pkg, actor, models.Options{})
		s.requireRejection(err, models.ReasonSignatureUnavailable)

		s.True(dErrors.HasCode(err, dErrors.CodeKeyUnavailable))
		s.False(dErrors.HasCode(err, dErrors.CodeRejected))
		s.ErrorIs(err, signing.ErrKeyUnavailable)
		s.Equal([]models.State{models.StateRejected}, states(outcome))
	})

	s.Run("signing failure during mint", func() {
		s.signers.EXPECT().Signer(gomock.Any(), testutil.TestIDs.Sender).Return(brokenSigner{did: s.sender.DID()}, nil)
		s.expectUploads()

		outcome, err := s.service.StartPickup(s.ctx, s.pkg, s.senderAt(s.pkg.PickupLocation), models.Options{})
		s.requireRejection(err, models.ReasonSignatureUnavailable)
		s.Equal(models.StateEvidenceCaptured, outcome.Transitions[len(outcome.Transitions)-2].To)
		s.Nil(outcome.Record)
	})
}

func (s *ServiceSuite) TestWrongPartyIsForbidden() {
	s.expectParties()

	s.Run("custodian cannot record pickup", func() {
		actor := s.custodianAt(s.pkg.PickupLocation)
		actor.Location = mustNotLocate(s.T())
		outcome, err := s.service.StartPickup(s.ctx, s.pkg, actor, models.Options{})
		s.Nil(outcome)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("sender cannot record delivery", func() {
		actor := s.senderAt(s.pkg.DeliveryLocation)
		actor.Location = mustNotLocate(s.T())
		outcome, err := s.service.StartDelivery(s.ctx, s.pkg, actor, []byte("x"), models.Options{})
		s.Nil(outcome)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestNoLocation() {
	s.expectParties()

	s.Run("provider error", func() {
		actor := s.senderAt(s.pkg.PickupLocation)
		actor.Location = locationFunc(func(context.Context) (ports.Fix, error) {
			return ports.Fix{}, errors.New("location permission denied")
		})
		outcome, err := s.service.StartPickup(s.ctx, s.pkg, actor, models.Options{})
		s.requireRejection(err, models.ReasonNoLocation)
		s.Equal([]models.State{models.StateRejected}, states(outcome))
	})

	s.Run("impossible coordinate", func() {
		actor := s.senderAt(geofence.Coordinate{Latitude: 91, Longitude: 13})
		_, err := s.service.StartPickup(s.ctx, s.pkg, actor, models.Options{})
		s.requireRejection(err, models.ReasonNoLocation)
	})

	s.Run("timeout reports progress first", func() {
		svc := s.newService(WithLocationTimeout(80*time.Millisecond), WithStillTryingAfter(10*time.Millisecond))
		actor := s.senderAt(s.pkg.PickupLocation)
		actor.Location = locationFunc(func(ctx context.Context) (ports.Fix, error) {
			<-ctx.Done()
			return ports.Fix{}, ctx.Err()
		})
		var progress []models.Progress
		opts := models.Options{OnProgress: func(p models.Progress) { progress = append(progress, p) }}

		_, err := svc.StartPickup(s.ctx, s.pkg, actor, opts)
		s.requireRejection(err, models.ReasonNoLocation)
		s.ErrorIs(err, context.DeadlineExceeded)
		s.Require().Len(progress, 1)
		s.Equal(models.StepLocation, progress[0].Step)
	})
}

func (s *ServiceSuite) TestNoEvidence() {
	s.expectParties()

	s.Run("capture cancelled", func() {
		actor := s.senderAt(s.pkg.PickupLocation)
		actor.Camera = cameraFunc(func(context.Context) (ports.Photo, error) {
			return ports.Photo{}, ports.ErrCaptureCancelled
		})
		outcome, err := s.service.StartPickup(s.ctx, s.pkg, actor, models.Options{})
		s.requireRejection(err, models.ReasonNoEvidence)
		s.ErrorIs(err, ports.ErrCaptureCancelled)
		s.Equal([]models.State{models.StateLocationAcquired, models.StateRejected}, states(outcome))
	})

	s.Run("empty photo", func() {
		actor := s.senderAt(s.pkg.PickupLocation)
		actor.Camera = cameraFunc(func(context.Context) (ports.Photo, error) {
			return ports.Photo{ContentType: "image/jpeg"}, nil
		})
		_, err := s.service.StartPickup(s.ctx, s.pkg, actor, models.Options{})
		s.requireRejection(err, models.ReasonNoEvidence)
	})

	s.Run("upload failure", func() {
		s.uploader.EXPECT().Upload(gomock.Any(), gomock.Any(), "image/jpeg").Return("", errors.New("object store returned 503"))
		_, err := s.service.StartPickup(s.ctx, s.pkg, s.senderAt(s.pkg.PickupLocation), models.Options{})
		s.requireRejection(err, models.ReasonNoEvidence)
	})

	records, err := s.events.ListByPackage(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *ServiceSuite) TestCancellationLeavesNoRecord() {
	s.expectParties()

	s.Run("cancelled during capture", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		actor := s.senderAt(s.pkg.PickupLocation)
		actor.Camera = cameraFunc(func(ctx context.Context) (ports.Photo, error) {
			cancel()
			<-ctx.Done()
			return ports.Photo{}, ctx.Err()
		})

		outcome, err := s.service.StartPickup(ctx, s.pkg, actor, models.Options{})
		s.Nil(outcome)
		s.ErrorIs(err, context.Canceled)
	})

	s.Run("already cancelled", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		outcome, err := s.service.StartPickup(ctx, s.pkg, s.senderAt(s.pkg.PickupLocation), models.Options{})
		s.Nil(outcome)
		s.ErrorIs(err, context.Canceled)
	})

	records, err := s.events.ListByPackage(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	s.Empty(records)
	_, err = s.service.IssueTokenPayload(s.ctx, s.pkg.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestStoreFailures() {
	s.expectParties()
	s.expectUploads()
	store := mocks.NewMockEventStore(s.ctrl)
	svc := NewService(s.signers, s.tokens, store, s.uploader, WithClock(s.clock))

	s.Run("unavailable", func() {
		store.EXPECT().Append(gomock.Any(), gomock.Any(), nil).Return(nil, errors.New("dial tcp 10.0.0.7:5432: connection refused"))
		outcome, err := svc.StartPickup(s.ctx, s.pkg, s.senderAt(s.pkg.PickupLocation), models.Options{})
		s.requireRejection(err, models.ReasonStoreUnavailable)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.Nil(outcome.Record)
	})

	s.Run("conflict", func() {
		store.EXPECT().Append(gomock.Any(), gomock.Any(), nil).Return(nil, fmt.Errorf("digest exists: %w", sentinel.ErrConflict))
		_, err := svc.StartPickup(s.ctx, s.pkg, s.senderAt(s.pkg.PickupLocation), models.Options{})
		s.requireRejection(err, models.ReasonStoreConflict)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	_, err := s.service.IssueTokenPayload(s.ctx, s.pkg.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "token is not published when the pickup is not persisted")
}

func (s *ServiceSuite) TestInvalidRequests() {
	actor := s.senderAt(s.pkg.PickupLocation)

	s.Run("nil package", func() {
		_, err := s.service.StartPickup(s.ctx, nil, actor, models.Options{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("missing user", func() {
		noUser := actor
		noUser.UserID = id.UserID{}
		_, err := s.service.StartPickup(s.ctx, s.pkg, noUser, models.Options{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("missing camera", func() {
		noCamera := actor
		noCamera.Camera = nil
		_, err := s.service.StartPickup(s.ctx, s.pkg, noCamera, models.Options{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("condition on pickup", func() {
		_, err := s.service.StartPickup(s.ctx, s.pkg, actor, models.Options{Condition: events.ConditionDamaged})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown condition", func() {
		_, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), []byte("x"), models.Options{Condition: "soggy"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestHistory() {
	s.expectParties()
	s.expectUploads()
	scanned := s.pickup(s.pkg)
	s.now = s.now.Add(2 * time.Hour)
	_, err := s.service.StartDelivery(s.ctx, s.pkg, s.custodianAt(s.pkg.DeliveryLocation), scanned, models.Options{})
	s.Require().NoError(err)

	history, err := s.service.History(s.ctx, s.pkg.ID)
	s.Require().NoError(err)
	s.Require().Len(history.Records, 2)
	s.Equal(events.KindPickup, history.Records[0].Kind)
	s.Equal(events.KindDelivery, history.Records[1].Kind)
	s.Require().NotNil(history.Settlement)
	s.Equal(history.Records[1].ID, history.Settlement.RecordID)

	empty, err := s.service.History(s.ctx, "PKG-unknown")
	s.Require().NoError(err)
	s.Empty(empty.Records)
	s.Nil(empty.Settlement)
}

type locationFunc func(ctx context.Context) (ports.Fix, error)

func (f locationFunc) CurrentLocation(ctx context.Context) (ports.Fix, error) { return f(ctx) }

type cameraFunc func(ctx context.Context) (ports.Photo, error)

func (f cameraFunc) CapturePhoto(ctx context.Context) (ports.Photo, error) { return f(ctx) }

func at(c geofence.Coordinate) locationFunc {
	return func(context.Context) (ports.Fix, error) {
		return ports.Fix{Coordinate: c, AccuracyMeters: 8}, nil
	}
}

func photo(content string) cameraFunc {
	return func(context.Context) (ports.Photo, error) {
		return ports.Photo{Bytes: []byte(content), ContentType: "image/jpeg"}, nil
	}
}

func mustNotLocate(t *testing.T) locationFunc {
	return func(context.Context) (ports.Fix, error) {
		t.Error("location must not be requested")
		return ports.Fix{}, errors.New("unexpected")
	}
}

// directory resolves the parties' public keys and counts lookups.
type directory struct {
	keys  map[id.DID]ed25519.PublicKey
	calls atomic.Int32
}

func newDirectory(parties ...*testutil.Party) *directory {
	d := &directory{keys: make(map[id.DID]ed25519.PublicKey)}
	for _, p := range parties {
		d.keys[p.DID()] = p.Public
	}
	return d
}

func (d *directory) ResolvePublicKey(_ context.Context, did id.DID) (ed25519.PublicKey, error) {
	d.calls.Add(1)
	pub, ok := d.keys[did]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", did, sentinel.ErrNotFound)
	}
	return pub, nil
}

type brokenSigner struct{ did id.DID }

func (b brokenSigner) DID() id.DID { return b.did }

func (brokenSigner) Sign([]byte) ([]byte, error) { return nil, signing.ErrKeyUnavailable }
