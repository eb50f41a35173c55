package config

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"time"

	strs "parcelproof/pkg/platform/strings"
)

// Defaults applied when the environment leaves a setting empty.
var (
	TokenTTL        = 24 * time.Hour
	GeofenceRadius  = 50.0
	LocationTimeout = 15 * time.Second
	UploadTimeout   = 30 * time.Second
	SettlementTopic = "parcelproof.settlement.instructions"
)

// API access tokens are issued and accepted under these claims.
const (
	JWTIssuer      = "parcelproof"
	JWTAudience    = "parcelproof-api"
	AccessTokenTTL = 15 * time.Minute
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string
	LogLevel      string
	// TrustedProxies may set X-Forwarded-For; other peers are taken at face value.
	TrustedProxies []netip.Prefix
	Redis          RedisConfig
	Kafka          KafkaConfig
	Vault          VaultConfig
	Handover       HandoverConfig
	Evidence       EvidenceConfig
}

// RedisConfig configures the token registry connection. An empty URL keeps the
// registry in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the settlement relay. An empty broker list disables it.
type KafkaConfig struct {
	Brokers         []string
	SettlementTopic string
	ConsumerGroup   string
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// VaultConfig configures private key storage.
type VaultConfig struct {
	// MasterKey seals private keys at rest. Nil means the sealed vault is unavailable.
	MasterKey []byte
	Dir       string
	// AllowSoftwareFallback permits the degraded plain-PEM keystore.
	AllowSoftwareFallback bool
}

// HandoverConfig bounds a single verification attempt.
type HandoverConfig struct {
	RadiusMeters    float64
	TokenTTL        time.Duration
	LocationTimeout time.Duration
	UploadTimeout   time.Duration
}

// EvidenceConfig points at the object store receiving evidence photos. An empty
// URL keeps photos in memory.
type EvidenceConfig struct {
	StoreURL string
	APIKey   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
// Malformed values are reported rather than silently replaced.
func FromEnv() (Server, error) {
	addr := os.Getenv("PARCELPROOF_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	cfg := Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSigningKey: jwtSigningKey,
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:         strs.SplitList(os.Getenv("KAFKA_BROKERS")),
			SettlementTopic: envOr("SETTLEMENT_TOPIC", SettlementTopic),
			ConsumerGroup:   envOr("SETTLEMENT_CONSUMER_GROUP", "parcelproof-settlement"),
		},
		Vault: VaultConfig{
			Dir:                   envOr("VAULT_DIR", "./data/keys"),
			AllowSoftwareFallback: os.Getenv("ALLOW_SOFTWARE_KEYSTORE") == "true",
		},
		Evidence: EvidenceConfig{
			StoreURL: os.Getenv("EVIDENCE_STORE_URL"),
			APIKey:   os.Getenv("EVIDENCE_STORE_API_KEY"),
		},
	}

	if raw := os.Getenv("VAULT_MASTER_KEY"); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Server{}, fmt.Errorf("VAULT_MASTER_KEY: %w", err)
		}
		if len(key) != 32 {
			return Server{}, fmt.Errorf("VAULT_MASTER_KEY: want 32 bytes, got %d", len(key))
		}
		cfg.Vault.MasterKey = key
	}

	for _, raw := range strs.SplitList(os.Getenv("TRUSTED_PROXIES")) {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return Server{}, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		cfg.TrustedProxies = append(cfg.TrustedProxies, prefix)
	}

	var err error
	if cfg.Handover.RadiusMeters, err = floatEnv("GEOFENCE_RADIUS_M", GeofenceRadius); err != nil {
		return Server{}, err
	}
	if cfg.Handover.TokenTTL, err = durationEnv("TOKEN_TTL", TokenTTL); err != nil {
		return Server{}, err
	}
	if cfg.Handover.LocationTimeout, err = durationEnv("LOCATION_TIMEOUT", LocationTimeout); err != nil {
		return Server{}, err
	}
	if cfg.Handover.UploadTimeout, err = durationEnv("UPLOAD_TIMEOUT", UploadTimeout); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return v, nil
}
