// Package service manages per-user Ed25519 identities: generation, vault
// storage, the public identity directory, and signer access.
package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"time"

	"parcelproof/internal/audit"
	"parcelproof/internal/identity/did"
	"parcelproof/internal/identity/metrics"
	"parcelproof/internal/identity/models"
	"parcelproof/internal/identity/vault"
	"parcelproof/internal/signing"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/platform/sentinel"
	platformsync "parcelproof/pkg/platform/sync"
)

// ErrEntropyUnavailable is returned when the secure random source fails.
// There is no weaker fallback.
var ErrEntropyUnavailable = errors.New("secure randomness unavailable")

// Directory defines the persistence interface for the public identity directory.
// Error Contract: Find methods and Revoke return sentinel.ErrNotFound when nothing
// matches; Save returns sentinel.ErrConflict for a second active identity.
type Directory interface {
	Save(ctx context.Context, identity *models.Identity) error
	FindByUser(ctx context.Context, userID id.UserID) (*models.Identity, error)
	FindByDID(ctx context.Context, did id.DID) (*models.Identity, error)
	Revoke(ctx context.Context, userID id.UserID, revokedAt time.Time) (*models.Identity, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

type Service struct {
	directory Directory
	vault     vault.Vault
	fallback  vault.Vault
	random    io.Reader
	locks     *platformsync.ShardedMutex
	now       func() time.Time
	logger    *slog.Logger
	auditor   AuditPublisher
	metrics   *metrics.Metrics
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

// WithSoftwareFallback enables degraded key storage for hosts where the
// primary vault is unavailable. Every key written there is logged, counted,
// flagged on the identity and audited.
func WithSoftwareFallback(v vault.Vault) Option {
	return func(s *Service) {
		s.fallback = v
	}
}

// WithRandom replaces crypto/rand.Reader as the key seed source.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.random = r
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

func NewService(directory Directory, primary vault.Vault, opts ...Option) *Service {
	svc := &Service{
		directory: directory,
		vault:     primary,
		random:    rand.Reader,
		locks:     platformsync.NewShardedMutex(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// EnsureIdentity returns the user's active identity, generating one on first use.
func (s *Service) EnsureIdentity(ctx context.Context, userID id.UserID) (*models.Identity, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing user context")
	}
	key := userID.String()
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	existing, err := s.directory.FindByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read identity directory")
	}

	priv, err := s.generateKey()
	if err != nil {
		s.logger.ErrorContext(ctx, "identity key generation failed",
			"user_id", userID.String(),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "secure randomness unavailable")
	}
	pub := priv.Public().(ed25519.PublicKey)
	d, err := did.FromPublicKey(pub)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive identifier")
	}

	store, err := s.storeKey(ctx, userID, priv)
	if err != nil {
		return nil, err
	}

	identity := &models.Identity{
		UserID:    userID,
		DID:       d,
		PublicKey: pub,
		Storage:   store.Kind(),
		Degraded:  store.Kind() == models.StorageSoftware,
		CreatedAt: s.now().UTC(),
	}
	if err := s.directory.Save(ctx, identity); err != nil {
		if delErr := store.Delete(ctx, userID); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to remove orphaned key material",
				"user_id", userID.String(),
				"error", delErr,
			)
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "identity already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to save identity")
	}

	s.logAudit(ctx, audit.EventIdentityCreated, identity, "")
	s.incrementIdentitiesCreated(string(identity.Storage))
	if identity.Degraded {
		s.reportDegraded(ctx, identity)
	}
	return identity, nil
}

// LoadIdentity returns the user's active identity.
func (s *Service) LoadIdentity(ctx context.Context, userID id.UserID) (*models.Identity, error) {
	identity, err := s.directory.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read identity directory")
	}
	return identity, nil
}

// DeleteIdentity destroys the user's key material and revokes the directory
// entry. Tokens and records signed earlier stay in history but no longer resolve.
func (s *Service) DeleteIdentity(ctx context.Context, userID id.UserID) error {
	key := userID.String()
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	identity, err := s.LoadIdentity(ctx, userID)
	if err != nil {
		return err
	}
	v := s.vaultFor(identity.Storage)
	if v == nil {
		return dErrors.New(dErrors.CodeInternal, "no vault for identity storage kind")
	}
	if err := v.Delete(ctx, userID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to delete key material")
	}
	revoked, err := s.directory.Revoke(ctx, userID, s.now().UTC())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to revoke identity")
	}
	s.logAudit(ctx, audit.EventIdentityDeleted, revoked, "user_request")
	s.incrementIdentitiesDeleted()
	return nil
}

// Signer returns a signer over the user's private key. A locked, missing or
// corrupt key yields CodeKeyUnavailable wrapping signing.ErrKeyUnavailable.
func (s *Service) Signer(ctx context.Context, userID id.UserID) (signing.Signer, error) {
	identity, err := s.LoadIdentity(ctx, userID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, s.keyUnavailable(ctx, userID, "no_identity", err)
		}
		return nil, err
	}
	v := s.vaultFor(identity.Storage)
	if v == nil {
		return nil, s.keyUnavailable(ctx, userID, "no_vault", nil)
	}
	priv, err := v.Get(ctx, userID)
	if err != nil {
		return nil, s.keyUnavailable(ctx, userID, keyFailureCause(err), err)
	}
	signer, err := signing.NewKeySigner(priv)
	if err != nil {
		return nil, s.keyUnavailable(ctx, userID, "corrupt", err)
	}
	if signer.DID() != identity.DID {
		return nil, s.keyUnavailable(ctx, userID, "key_mismatch", nil)
	}
	return signer, nil
}

// ResolvePublicKey looks up the current public key for a DID. Unknown and
// revoked identifiers return CodeNotFound wrapping sentinel.ErrNotFound. A
// directory row whose key does not derive to d also wraps sentinel.ErrNotFound:
// no usable key exists for that identifier.
func (s *Service) ResolvePublicKey(ctx context.Context, d id.DID) (ed25519.PublicKey, error) {
	identity, err := s.directory.FindByDID(ctx, d)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.incrementPublicKeyResolution("unknown")
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "issuer unknown")
		}
		s.incrementPublicKeyResolution("error")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read identity directory")
	}
	if identity.IsRevoked() {
		s.incrementPublicKeyResolution("revoked")
		return nil, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "issuer identity revoked")
	}
	if !did.Matches(d, identity.PublicKey) {
		s.incrementPublicKeyResolution("mismatch")
		return nil, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeInvariantViolation, "directory key does not derive to identifier")
	}
	s.incrementPublicKeyResolution("ok")
	return append(ed25519.PublicKey(nil), identity.PublicKey...), nil
}

func (s *Service) generateKey() (ed25519.PrivateKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(s.random, seed); err != nil {
		return nil, errors.Join(ErrEntropyUnavailable, err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// storeKey writes priv to the primary vault, or to the software fallback when
// the primary cannot hold keys on this host and the fallback is enabled.
// A locked primary never falls back: the user has to unlock it.
func (s *Service) storeKey(ctx context.Context, userID id.UserID, priv ed25519.PrivateKey) (vault.Vault, error) {
	err := s.vault.Available()
	switch {
	case err == nil:
		if err := s.vault.Put(ctx, userID, priv); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "failed to store identity key")
		}
		return s.vault, nil
	case errors.Is(err, vault.ErrUnavailable) && s.fallback != nil:
		if err := s.fallback.Put(ctx, userID, priv); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "failed to store identity key in fallback vault")
		}
		return s.fallback, nil
	case errors.Is(err, vault.ErrLocked):
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "key vault is locked")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "secure key storage unavailable")
	}
}

func (s *Service) vaultFor(kind models.StorageKind) vault.Vault {
	switch {
	case s.vault != nil && s.vault.Kind() == kind:
		return s.vault
	case s.fallback != nil && s.fallback.Kind() == kind:
		return s.fallback
	default:
		return nil
	}
}

func keyFailureCause(err error) string {
	switch {
	case errors.Is(err, vault.ErrLocked):
		return "locked"
	case errors.Is(err, sentinel.ErrNotFound):
		return "missing"
	case errors.Is(err, vault.ErrCorrupt):
		return "corrupt"
	default:
		return "error"
	}
}
