package e2e

import (
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"parcelproof/internal/audit"
	eventstore "parcelproof/internal/events/store"
	evidencestore "parcelproof/internal/evidence/store"
	handoverhandler "parcelproof/internal/handover/handler"
	handoverservice "parcelproof/internal/handover/service"
	identityhandler "parcelproof/internal/identity/handler"
	identityservice "parcelproof/internal/identity/service"
	identitystore "parcelproof/internal/identity/store"
	"parcelproof/internal/identity/vault"
	jwttoken "parcelproof/internal/jwt_token"
	"parcelproof/internal/platform/config"
	"parcelproof/internal/platform/health"
	"parcelproof/internal/token"
	tokenstore "parcelproof/internal/token/store"
	httptransport "parcelproof/internal/transport/http"
	outboxmemory "parcelproof/pkg/platform/outbox/store/memory"
)

const signingKey = "e2e-signing-key"

// clock is the engine's notion of now. Steps move it forward to simulate elapsed time.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// engine is an in-process parcelproof server on in-memory stores.
type engine struct {
	server  *httptest.Server
	jwt     *jwttoken.JWTService
	outbox  *outboxmemory.Store
	clock   *clock
	keysDir string
	audit   *audit.Publisher
}

func startEngine() (*engine, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{now: time.Now().UTC()}

	keysDir, err := os.MkdirTemp("", "parcelproof-e2e-*")
	if err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	master := make([]byte, vault.MasterKeySize)
	for i := range master {
		master[i] = byte(i + 1)
	}
	sealed, err := vault.NewSealed(keysDir, master)
	if err != nil {
		return nil, err
	}

	publisher := audit.NewPublisher(audit.NewInMemoryStore(), audit.WithPublisherLogger(logger))
	identities := identityservice.NewService(identitystore.NewInMemory(), sealed,
		identityservice.WithLogger(logger),
		identityservice.WithAuditPublisher(publisher),
	)
	tokens := token.NewService(identities, tokenstore.NewInMemory(tokenstore.WithClock(clk.Now)),
		token.WithLogger(logger),
		token.WithClock(clk.Now),
	)
	ob := outboxmemory.New()
	handovers := handoverservice.NewService(identities, tokens, eventstore.NewInMemory(ob), evidencestore.NewInMemory(),
		handoverservice.WithLogger(logger),
		handoverservice.WithAuditPublisher(publisher),
		handoverservice.WithClock(clk.Now),
	)

	jwt := jwttoken.NewJWTService(signingKey, config.JWTIssuer, config.JWTAudience, time.Hour)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    logger,
		Validator: jwttoken.NewJWTServiceAdapter(jwt),
		Identity:  identityhandler.New(identities, logger),
		Handover:  handoverhandler.New(handovers, logger),
		Health:    health.New("parcelproof"),
	})

	return &engine{
		server:  httptest.NewServer(router),
		jwt:     jwt,
		outbox:  ob,
		clock:   clk,
		keysDir: keysDir,
		audit:   publisher,
	}, nil
}

func (e *engine) Close() {
	e.server.Close()
	e.audit.Close()
	_ = os.RemoveAll(e.keysDir)
}
