//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"parcelproof/internal/events"
	"parcelproof/internal/geofence"
	id "parcelproof/pkg/domain"
	outboxpostgres "parcelproof/pkg/platform/outbox/store/postgres"
	"parcelproof/pkg/platform/sentinel"
	"parcelproof/pkg/testutil"
	"parcelproof/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
	actor    *testutil.Party
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgres(s.postgres.DB, outboxpostgres.New(s.postgres.DB))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
	s.actor = testutil.NewParty(s.T())
	s.now = time.Now().UTC().Truncate(events.TimestampPrecision)
}

func (s *PostgresStoreSuite) signedRecord(pkg id.PackageID, meters float64, seq int) *events.Record {
	observed := testutil.NorthOf(testutil.Alexanderplatz, meters)
	rec := &events.Record{
		PackageID:      pkg,
		Kind:           events.KindDelivery,
		Actor:          s.actor.DID(),
		Observed:       observed,
		AccuracyMeters: 12,
		DistanceMeters: geofence.Distance(testutil.Alexanderplatz, observed),
		RadiusMeters:   geofence.DefaultRadiusMeters,
		AccuracyClass:  geofence.AccuracyGood,
		Evidence:       events.Evidence{URL: fmt.Sprintf("https://evidence.test/%d.jpg", seq), SHA256: fmt.Sprintf("%064d", seq)},
		Condition:      events.ConditionDamaged,
		TokenDigest:    "token-digest",
		Timestamp:      s.now.Add(time.Duration(seq) * time.Millisecond),
	}
	rec.Verified = rec.ExpectedVerified()
	_, err := rec.AssignID()
	s.Require().NoError(err)
	payload, err := events.SigningPayload(rec)
	s.Require().NoError(err)
	rec.Signature, err = s.actor.Signer.Sign(payload)
	s.Require().NoError(err)
	return rec
}

func (s *PostgresStoreSuite) TestRoundTripKeepsSignatureValid() {
	ctx := context.Background()
	rec := s.signedRecord("PKG-PG-1", 5, 1)
	st := events.NewSettlement(rec, 4999, s.now)

	_, err := s.store.Append(ctx, rec, st)
	s.Require().NoError(err)

	records, err := s.store.ListByPackage(ctx, "PKG-PG-1")
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.True(records[0].Trusted())
	s.Equal(rec.ID, records[0].ID)

	got, err := s.store.SettlementForPackage(ctx, "PKG-PG-1")
	s.Require().NoError(err)
	s.Equal(st.ID, got.ID)
	s.True(got.AutoVerified)

	s.Equal(1, s.postgres.CountRows(ctx, s.T(), "outbox", "aggregate_id = $1", "PKG-PG-1"))
}

func (s *PostgresStoreSuite) TestReplayIsIdempotent() {
	ctx := context.Background()
	rec := s.signedRecord("PKG-PG-2", 5, 1)
	_, err := s.store.Append(ctx, rec, events.NewSettlement(rec, 1, s.now))
	s.Require().NoError(err)

	res, err := s.store.Append(ctx, rec, events.NewSettlement(rec, 1, s.now))
	s.Require().NoError(err)
	s.True(res.Duplicate)
	s.Require().NotNil(res.Settlement)
	s.Equal(1, s.postgres.CountRows(ctx, s.T(), "outbox", ""))
}

func (s *PostgresStoreSuite) TestConcurrentDeliveriesSettleOnce() {
	ctx := context.Background()
	const attempts = 20
	records := make([]*events.Record, attempts)
	for i := range records {
		records[i] = s.signedRecord("PKG-PG-RACE", 5, i)
	}

	result := testutil.RunConcurrent(attempts, func(i int) error {
		_, err := s.store.Append(ctx, records[i], events.NewSettlement(records[i], 4999, s.now))
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(attempts-1), result.Conflicts)
	s.Equal(1, s.postgres.CountRows(ctx, s.T(), "settlements", "package_id = $1", "PKG-PG-RACE"))
	s.Equal(1, s.postgres.CountRows(ctx, s.T(), "outbox", ""))
}

func (s *PostgresStoreSuite) TestRecordsAreAppendOnly() {
	ctx := context.Background()
	rec := s.signedRecord("PKG-PG-3", 5, 1)
	_, err := s.store.Append(ctx, rec, nil)
	s.Require().NoError(err)

	_, err = s.postgres.Exec(ctx, `UPDATE verification_records SET verified = false WHERE package_id = $1`, "PKG-PG-3")
	s.Error(err)
	_, err = s.postgres.Exec(ctx, `DELETE FROM verification_records WHERE package_id = $1`, "PKG-PG-3")
	s.Error(err)
}

func (s *PostgresStoreSuite) TestMissing() {
	ctx := context.Background()
	_, err := s.store.SettlementForPackage(ctx, "PKG-NONE")
	s.ErrorIs(err, sentinel.ErrNotFound)
	records, err := s.store.ListByPackage(ctx, "PKG-NONE")
	s.Require().NoError(err)
	s.Empty(records)
}
