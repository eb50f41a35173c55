package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"parcelproof/internal/events"
	"parcelproof/internal/geofence"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/outbox"
	"parcelproof/pkg/platform/sentinel"
)

// settledDeliveryIndex is the partial unique index allowing one verified
// delivery per package.
const settledDeliveryIndex = "verification_records_settled_delivery_idx"

// OutboxWriter appends relay entries inside the caller's transaction.
type OutboxWriter interface {
	AppendTx(ctx context.Context, tx *sql.Tx, entry *outbox.Entry) error
}

// PostgresStore appends a record, its settlement and the outbox entry in one
// transaction.
type PostgresStore struct {
	db     *sql.DB
	outbox OutboxWriter
}

func NewPostgres(db *sql.DB, ob OutboxWriter) *PostgresStore {
	return &PostgresStore{db: db, outbox: ob}
}

const recordColumns = `id, digest, package_id, kind, actor_did, latitude, longitude,
	accuracy_m, distance_m, radius_m, accuracy_class, evidence_url, evidence_sha256,
	condition, override, override_reason, token_digest, recorded_at, signature, verified`

func (s *PostgresStore) Append(ctx context.Context, rec *events.Record, st *events.Settlement) (*events.Appended, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is required: %w", sentinel.ErrInvalidInput)
	}
	digest, err := rec.Digest()
	if err != nil {
		return nil, fmt.Errorf("digest record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO verification_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO NOTHING
	`,
		uuid.UUID(rec.ID), digest, string(rec.PackageID), string(rec.Kind), string(rec.Actor),
		rec.Observed.Latitude, rec.Observed.Longitude,
		rec.AccuracyMeters, rec.DistanceMeters, rec.RadiusMeters, string(rec.AccuracyClass),
		rec.Evidence.URL, rec.Evidence.SHA256,
		string(rec.Condition), rec.Override, rec.OverrideReason, rec.TokenDigest,
		rec.Timestamp, rec.Signature, rec.Verified,
	)
	if err != nil {
		return nil, translateWriteErr("insert verification record", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	} else if n == 0 {
		_ = tx.Rollback()
		return s.existing(ctx, rec.ID)
	}

	if st != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settlements (id, package_id, record_id, amount, auto_verified, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.UUID(st.ID), string(st.PackageID), uuid.UUID(st.RecordID), st.Amount, st.AutoVerified, st.CreatedAt); err != nil {
			return nil, translateWriteErr("insert settlement", err)
		}
		entry, err := events.OutboxEntry(st)
		if err != nil {
			return nil, err
		}
		if err := s.outbox.AppendTx(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translateWriteErr("commit append", err)
	}
	return &events.Appended{Record: rec, Settlement: st}, nil
}

func (s *PostgresStore) existing(ctx context.Context, recordID id.RecordID) (*events.Appended, error) {
	rec, err := s.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	st, err := s.settlementWhere(ctx, `record_id = $1`, uuid.UUID(recordID))
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	return &events.Appended{Record: rec, Settlement: st, Duplicate: true}, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, recordID id.RecordID) (*events.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM verification_records WHERE id = $1`, uuid.UUID(recordID))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByPackage(ctx context.Context, packageID id.PackageID) ([]*events.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM verification_records
		WHERE package_id = $1
		ORDER BY recorded_at ASC, created_at ASC
	`, string(packageID))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*events.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SettlementForPackage(ctx context.Context, packageID id.PackageID) (*events.Settlement, error) {
	return s.settlementWhere(ctx, `package_id = $1`, string(packageID))
}

func (s *PostgresStore) settlementWhere(ctx context.Context, where string, arg any) (*events.Settlement, error) {
	var (
		st       events.Settlement
		stID     uuid.UUID
		recordID uuid.UUID
		pkg      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, package_id, record_id, amount, auto_verified, created_at
		FROM settlements
		WHERE `+where, arg).Scan(&stID, &pkg, &recordID, &st.Amount, &st.AutoVerified, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settlement not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find settlement: %w", err)
	}
	st.ID = id.SettlementID(stID)
	st.RecordID = id.RecordID(recordID)
	st.PackageID = id.PackageID(pkg)
	return &st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*events.Record, error) {
	var (
		rec                      events.Record
		recID                    uuid.UUID
		digest, pkg, kind, actor string
		accuracyClass, condition string
	)
	err := row.Scan(
		&recID, &digest, &pkg, &kind, &actor,
		&rec.Observed.Latitude, &rec.Observed.Longitude,
		&rec.AccuracyMeters, &rec.DistanceMeters, &rec.RadiusMeters, &accuracyClass,
		&rec.Evidence.URL, &rec.Evidence.SHA256,
		&condition, &rec.Override, &rec.OverrideReason, &rec.TokenDigest,
		&rec.Timestamp, &rec.Signature, &rec.Verified,
	)
	if err != nil {
		return nil, err
	}
	rec.ID = id.RecordID(recID)
	rec.PackageID = id.PackageID(pkg)
	rec.Kind = events.Kind(kind)
	rec.Actor = id.DID(actor)
	rec.AccuracyClass = geofence.Accuracy(accuracyClass)
	rec.Condition = events.Condition(condition)
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

func translateWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == settledDeliveryIndex {
			return events.ErrAlreadySettled
		}
		return fmt.Errorf("%s: %w", op, errors.Join(sentinel.ErrConflict, err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, errors.Join(sentinel.ErrUnavailable, err))
}
