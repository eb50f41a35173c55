// Package token mints and validates package tokens: signed, expiring
// authorizations binding a package to its sender and custodian.
package token

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"parcelproof/internal/parcel"
	"parcelproof/internal/signing"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/platform/sentinel"
)

var (
	tokensMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parcelproof_package_tokens_minted_total",
		Help: "Total number of package tokens minted",
	})
	tokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelproof_package_token_validations_total",
		Help: "Total number of package token validations, labeled by result",
	}, []string{"result"})
)

// KeyResolver returns the current public key for an identifier.
// Error Contract: unknown or revoked identifiers wrap sentinel.ErrNotFound.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, did id.DID) (ed25519.PublicKey, error)
}

// Registry records the latest token issued per package.
// Error Contract: Latest returns sentinel.ErrNotFound when no token is visible.
type Registry interface {
	Publish(ctx context.Context, packageID id.PackageID, encoded []byte, expiresAt time.Time) error
	Latest(ctx context.Context, packageID id.PackageID) ([]byte, error)
}

type Service struct {
	resolver KeyResolver
	registry Registry
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTTL overrides the validity window. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
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

func NewService(resolver KeyResolver, registry Registry, opts ...Option) *Service {
	svc := &Service{
		resolver: resolver,
		registry: registry,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// Mint builds and signs a token for pkg. The signer must be the package sender.
// The token is not published; call Publish once the pickup is recorded.
func (s *Service) Mint(_ context.Context, pkg *parcel.Descriptor, signer signing.Signer) (*Token, error) {
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, dErrors.New(dErrors.CodeKeyUnavailable, "no signer")
	}
	if signer.DID() != pkg.Sender {
		return nil, dErrors.New(dErrors.CodeForbidden, "package tokens must be signed by the package sender")
	}
	created := s.now().UTC().Truncate(time.Second)
	t := &Token{
		PackageID:        pkg.ID,
		Sender:           pkg.Sender,
		Custodian:        pkg.Custodian,
		Destination:      pkg.Destination,
		DeclaredValue:    pkg.DeclaredValue,
		DeliveryLocation: pkg.DeliveryLocation,
		CreatedAt:        created,
		ExpiresAt:        created.Add(s.ttl),
	}
	payload, err := SigningPayload(t)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "package fields cannot be encoded")
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "failed to sign package token")
	}
	t.Signature = sig
	tokensMinted.Inc()
	return t, nil
}

// Validate checks a scanned token in a fixed order: parse, package match,
// expiry, issuer resolution, signature. The first failure is returned as a
// *ValidationError. Failures to reach the directory are returned unwrapped so
// callers can tell infrastructure faults from bad tokens.
func (s *Service) Validate(ctx context.Context, raw []byte, expected id.PackageID) (*Token, error) {
	t, err := Decode(raw)
	if err != nil {
		return nil, s.refuse(invalid(ReasonMalformedEncoding, err))
	}
	if t.PackageID != expected {
		return nil, s.refuse(invalid(ReasonPackageMismatch, nil))
	}
	if s.now().After(t.ExpiresAt) {
		return nil, s.refuse(invalid(ReasonExpired, nil))
	}
	pub, err := s.resolver.ResolvePublicKey(ctx, t.Sender)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.refuse(invalid(ReasonIssuerUnknown, err))
		}
		tokenValidations.WithLabelValues("error").Inc()
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to resolve token issuer")
	}
	payload, err := SigningPayload(t)
	if err != nil {
		return nil, s.refuse(invalid(ReasonMalformedEncoding, err))
	}
	if !signing.Verify(pub, payload, t.Signature) {
		return nil, s.refuse(invalid(ReasonSignatureInvalid, nil))
	}
	tokenValidations.WithLabelValues("ok").Inc()
	return t, nil
}

// ValidateIssued runs Validate and then requires the token to be the latest
// one published for the package. A token that is not visible yet is refused
// with ReasonNotIssued rather than waited for.
func (s *Service) ValidateIssued(ctx context.Context, raw []byte, expected id.PackageID) (*Token, error) {
	t, err := s.Validate(ctx, raw, expected)
	if err != nil {
		return nil, err
	}
	latest, err := s.latest(ctx, expected)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.refuse(invalid(ReasonNotIssued, nil))
		}
		return nil, err
	}
	encoded, err := Encode(t)
	if err != nil {
		return nil, s.refuse(invalid(ReasonMalformedEncoding, err))
	}
	if string(encoded) != string(latest) {
		return nil, s.refuse(invalid(ReasonNotIssued, nil))
	}
	return t, nil
}

// Publish records t as the latest token for its package.
func (s *Service) Publish(ctx context.Context, t *Token) error {
	encoded, err := Encode(t)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode package token")
	}
	if err := s.registry.Publish(ctx, t.PackageID, encoded, t.ExpiresAt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to publish package token")
	}
	return nil
}

// Latest returns the wire form of the latest token for packageID.
func (s *Service) Latest(ctx context.Context, packageID id.PackageID) ([]byte, error) {
	raw, err := s.latest(ctx, packageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no token issued for package")
		}
		return nil, err
	}
	return raw, nil
}

func (s *Service) latest(ctx context.Context, packageID id.PackageID) ([]byte, error) {
	raw, err := s.registry.Latest(ctx, packageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read token registry")
	}
	return raw, nil
}

func (s *Service) refuse(err *ValidationError) error {
	tokenValidations.WithLabelValues(string(err.Reason)).Inc()
	s.logger.Debug("package token refused", "reason", string(err.Reason))
	return err
}
