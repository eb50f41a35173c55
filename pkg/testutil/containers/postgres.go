//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"parcelproof/internal/platform/database"
	"parcelproof/migrations"
)

// engineTables lists every table the migrations create, children first.
var engineTables = []string{"settlements", "verification_records", "outbox", "audit_events", "identities"}

// PostgresContainer is a migrated Postgres reached through the same pool the
// server uses.
type PostgresContainer struct {
	Container testcontainers.Container
	Pool      *database.Pool
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres and applies the embedded migrations
// with database.Pool.Migrate, exactly as the server does at startup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("parcelproof_test"),
		postgres.WithUsername("parcelproof"),
		postgres.WithPassword("parcelproof_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	fail := func(format string, args ...any) {
		_ = container.Terminate(ctx)
		t.Fatalf(format, args...)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fail("failed to get postgres connection string: %v", err)
	}

	cfg := database.DefaultConfig()
	cfg.URL = dsn
	pool, err := database.New(cfg)
	if err != nil {
		fail("failed to open pool: %v", err)
	}
	if err := pool.Migrate(ctx, migrations.FS); err != nil {
		_ = pool.Close()
		fail("failed to run migrations: %v", err)
	}

	// The Manager shares this container across suites; Ryuk removes it when
	// the test process exits.
	return &PostgresContainer{Container: container, Pool: pool, DB: pool.DB()}
}

// TruncateAll empties every engine table. Row triggers do not fire on
// TRUNCATE, so append-only tables can be reset between tests.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(engineTables, ", ")+" CASCADE"); err != nil {
		return fmt.Errorf("truncate engine tables: %w", err)
	}
	return nil
}

// Exec runs a statement, typically to tamper with rows in a test.
func (p *PostgresContainer) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.DB.ExecContext(ctx, query, args...)
}

// CountRows returns the number of rows in table matching where.
func (p *PostgresContainer) CountRows(ctx context.Context, t testing.TB, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := p.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		t.Fatalf("CountRows %s: %v", table, err)
	}
	return n
}
