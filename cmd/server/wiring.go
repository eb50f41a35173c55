package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parcelproof/internal/audit"
	eventstore "parcelproof/internal/events/store"
	evidencestore "parcelproof/internal/evidence/store"
	handoverhandler "parcelproof/internal/handover/handler"
	handovermetrics "parcelproof/internal/handover/metrics"
	"parcelproof/internal/handover/ports"
	handoverservice "parcelproof/internal/handover/service"
	identityhandler "parcelproof/internal/identity/handler"
	identitymetrics "parcelproof/internal/identity/metrics"
	identityservice "parcelproof/internal/identity/service"
	identitystore "parcelproof/internal/identity/store"
	"parcelproof/internal/identity/vault"
	jwttoken "parcelproof/internal/jwt_token"
	"parcelproof/internal/platform/config"
	"parcelproof/internal/platform/database"
	"parcelproof/internal/platform/health"
	"parcelproof/internal/platform/kafka"
	"parcelproof/internal/platform/kafka/producer"
	redisclient "parcelproof/internal/platform/redis"
	"parcelproof/internal/platform/tracer"
	"parcelproof/internal/token"
	tokenstore "parcelproof/internal/token/store"
	httptransport "parcelproof/internal/transport/http"
	"parcelproof/migrations"
	"parcelproof/pkg/platform/circuit"
	"parcelproof/pkg/platform/middleware/request"
	"parcelproof/pkg/platform/outbox"
	outboxmetrics "parcelproof/pkg/platform/outbox/metrics"
	outboxmemory "parcelproof/pkg/platform/outbox/store/memory"
	outboxpostgres "parcelproof/pkg/platform/outbox/store/postgres"
	"parcelproof/pkg/platform/outbox/worker"
)

const (
	evidenceTimeout = 20 * time.Second
	brokerWait      = 30 * time.Second
)

// infra holds the optional external connections. A nil field means the
// corresponding component falls back to its in-memory implementation.
type infra struct {
	db       *database.Pool
	redis    *redisclient.Client
	producer *producer.Producer
	log      *slog.Logger
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{log: log}

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	in.db = pool
	if pool != nil {
		if err := pool.Migrate(ctx, migrations.FS); err != nil {
			in.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("postgres connected and migrated")
	}

	client, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	in.redis = client

	if cfg.Kafka.Enabled() {
		waitCtx, cancel := context.WithTimeout(ctx, brokerWait)
		err := kafka.WaitReachable(waitCtx, cfg.Kafka.Brokers, time.Second)
		cancel()
		if err != nil {
			in.Close()
			return nil, err
		}
		prod, err := producer.New(producer.DefaultConfig(cfg.Kafka.Brokers), log)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		in.producer = prod
	}
	return in, nil
}

func (in *infra) Close() {
	if in.producer != nil {
		if err := in.producer.Close(); err != nil {
			in.log.Warn("failed to close kafka producer", "error", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			in.log.Warn("failed to close redis", "error", err)
		}
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			in.log.Warn("failed to close postgres", "error", err)
		}
	}
}

type app struct {
	router     http.Handler
	background []func(context.Context) error
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(cfg config.Server, in *infra, log *slog.Logger) (*app, error) {
	a := &app{}
	checks := health.New("parcelproof")

	var auditStore audit.Store = audit.NewInMemoryStore()
	if in.db != nil {
		auditStore = audit.NewPostgresStore(in.db.DB())
	}
	auditPublisher := audit.NewPublisher(auditStore,
		audit.WithAsyncBuffer(1024),
		audit.WithPublisherLogger(log),
		audit.WithPublisherMetrics(audit.NewMetrics()),
	)
	a.closers = append(a.closers, auditPublisher.Close)

	identities, err := buildIdentityService(cfg, in, log, auditPublisher)
	if err != nil {
		return nil, err
	}

	var registry token.Registry = tokenstore.NewInMemory()
	if in.redis != nil {
		registry = tokenstore.NewRedis(in.redis)
		checks.RegisterCheck("redis", in.redis.Health)
		prometheus.MustRegister(in.redis.PoolCollector())
	}
	tokens := token.NewService(identities, registry,
		token.WithLogger(log),
		token.WithTTL(cfg.Handover.TokenTTL),
	)

	records, outboxStore := buildEventStore(in)
	if in.db != nil {
		checks.RegisterCheck("postgres", in.db.Health)
		prometheus.MustRegister(in.db.Collector("parcelproof"))
	}
	if in.producer != nil {
		relay := worker.New(outboxStore, in.producer,
			worker.WithTopic(cfg.Kafka.SettlementTopic),
			worker.WithMetrics(outboxmetrics.New()),
			worker.WithLogger(log),
		)
		a.background = append(a.background, relay.Run)
		checks.RegisterCheck("kafka", in.producer.Health)
	} else {
		log.Warn("kafka not configured; settlement instructions stay in the outbox")
	}

	uploader := buildUploader(cfg, log, checks)

	handovers := handoverservice.NewService(identities, tokens, records, uploader,
		handoverservice.WithLogger(log),
		handoverservice.WithAuditPublisher(auditPublisher),
		handoverservice.WithMetrics(handovermetrics.New()),
		handoverservice.WithTracer(tracer.NewOTel()),
		handoverservice.WithRadius(cfg.Handover.RadiusMeters),
		handoverservice.WithLocationTimeout(cfg.Handover.LocationTimeout),
		handoverservice.WithUploadTimeout(cfg.Handover.UploadTimeout),
	)

	jwt := jwttoken.NewJWTService(cfg.JWTSigningKey, config.JWTIssuer, config.JWTAudience, config.AccessTokenTTL)

	a.router = httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Validator:      jwttoken.NewJWTServiceAdapter(jwt),
		Identity:       identityhandler.New(identities, log),
		Handover:       handoverhandler.New(handovers, log),
		Health:         checks,
		Metrics:        request.NewMetrics(),
		TrustedProxies: cfg.TrustedProxies,
	})
	return a, nil
}

func buildIdentityService(cfg config.Server, in *infra, log *slog.Logger, publisher *audit.Publisher) (*identityservice.Service, error) {
	var directory identityservice.Directory = identitystore.NewInMemory()
	if in.db != nil {
		directory = identitystore.NewPostgres(in.db.DB())
	}

	var software vault.Vault
	if cfg.Vault.AllowSoftwareFallback {
		software = vault.NewSoftware(cfg.Vault.Dir + "/software")
	}

	if cfg.Vault.MasterKey == nil && software == nil {
		return nil, errors.New("no key storage: set VAULT_MASTER_KEY or ALLOW_SOFTWARE_KEYSTORE=true")
	}
	// Without a master key the sealed vault reports itself unavailable and new
	// identities land in the software keystore.
	sealed, err := vault.NewSealed(cfg.Vault.Dir+"/sealed", cfg.Vault.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("open sealed vault: %w", err)
	}
	if cfg.Vault.MasterKey == nil {
		log.Warn("sealed vault unavailable; identities use the software keystore")
	}

	opts := []identityservice.Option{
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(publisher),
		identityservice.WithMetrics(identitymetrics.New()),
	}
	if software != nil {
		opts = append(opts, identityservice.WithSoftwareFallback(software))
	}
	return identityservice.NewService(directory, sealed, opts...), nil
}

func buildEventStore(in *infra) (ports.EventStore, outbox.Store) {
	if in.db == nil {
		ob := outboxmemory.New()
		return eventstore.NewInMemory(ob), ob
	}
	ob := outboxpostgres.New(in.db.DB())
	return eventstore.NewPostgres(in.db.DB(), ob), ob
}

func buildUploader(cfg config.Server, log *slog.Logger, checks *health.Handler) ports.Uploader {
	if cfg.Evidence.StoreURL == "" {
		log.Warn("evidence store not configured; photos are kept in memory")
		return evidencestore.NewInMemory()
	}
	uploader := evidencestore.NewHTTP(evidencestore.HTTPConfig{
		BaseURL: cfg.Evidence.StoreURL,
		APIKey:  cfg.Evidence.APIKey,
		Timeout: evidenceTimeout,
		Breaker: circuit.New("evidence-store"),
		Logger:  log,
	})
	checks.RegisterCheck("evidence", uploader.Health)
	return uploader
}
