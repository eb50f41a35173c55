package store

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"parcelproof/internal/identity/models"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/sentinel"
)

// PostgresStore persists the identity directory in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity directory.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `did, user_id, public_key, storage, degraded, created_at, revoked_at`

func (s *PostgresStore) Save(ctx context.Context, identity *models.Identity) error {
	if identity == nil {
		return fmt.Errorf("identity is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		string(identity.DID),
		uuid.UUID(identity.UserID),
		[]byte(identity.PublicKey),
		string(identity.Storage),
		identity.Degraded,
		identity.CreatedAt,
		identity.RevokedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("identity already exists: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByUser(ctx context.Context, userID id.UserID) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE user_id = $1 AND revoked_at IS NULL
	`, uuid.UUID(userID))
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find identity by user: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) FindByDID(ctx context.Context, did id.DID) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE did = $1
	`, string(did))
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find identity by did: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, userID id.UserID, revokedAt time.Time) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE identities
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
		RETURNING `+identityColumns,
		uuid.UUID(userID), revokedAt)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("revoke identity: %w", err)
	}
	return identity, nil
}

func scanIdentity(row *sql.Row) (*models.Identity, error) {
	var (
		did       string
		userID    uuid.UUID
		publicKey []byte
		storage   string
		revokedAt sql.NullTime
		identity  models.Identity
	)
	if err := row.Scan(&did, &userID, &publicKey, &storage, &identity.Degraded, &identity.CreatedAt, &revokedAt); err != nil {
		return nil, err
	}
	identity.DID = id.DID(did)
	identity.UserID = id.UserID(userID)
	identity.PublicKey = ed25519.PublicKey(publicKey)
	identity.Storage = models.StorageKind(storage)
	if revokedAt.Valid {
		t := revokedAt.Time
		identity.RevokedAt = &t
	}
	return &identity, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
