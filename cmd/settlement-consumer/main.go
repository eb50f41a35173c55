// Command settlement-consumer reads settlement instructions relayed from the
// handover outbox and releases each payment once per settlement ID.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"parcelproof/internal/events"
	"parcelproof/internal/platform/config"
	"parcelproof/internal/platform/health"
	"parcelproof/internal/platform/kafka"
	"parcelproof/internal/platform/kafka/consumer"
	"parcelproof/internal/platform/logger"
	redisclient "parcelproof/internal/platform/redis"
	"parcelproof/internal/settlement"
	"parcelproof/internal/settlement/metrics"
	settlementstore "parcelproof/internal/settlement/store"
)

// claimRetention bounds how long a released settlement ID is remembered.
const claimRetention = 30 * 24 * time.Hour

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("settlement consumer exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	if !cfg.Kafka.Enabled() {
		return errors.New("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := health.New("parcelproof-settlement")

	var ledger settlement.Ledger = settlementstore.NewInMemory()
	client, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if client != nil {
		defer client.Close() //nolint:errcheck // best-effort on shutdown
		ledger = settlementstore.NewRedis(client, claimRetention)
		checks.RegisterCheck("redis", client.Health)
		prometheus.MustRegister(client.PoolCollector())
	} else {
		log.Warn("redis not configured; released settlements are only remembered until restart")
	}

	handler := settlement.NewHandler(ledger, logReleaser(log),
		settlement.WithLogger(log),
		settlement.WithMetrics(metrics.New()),
	)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = kafka.WaitReachable(waitCtx, cfg.Kafka.Brokers, time.Second)
	cancel()
	if err != nil {
		return err
	}

	c, err := consumer.New(consumer.Config{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.ConsumerGroup,
		Topics:  []string{cfg.Kafka.SettlementTopic},
	}, handler, log)
	if err != nil {
		return err
	}
	defer c.Close()
	checks.RegisterCheck("kafka", c.Health)

	r := chi.NewRouter()
	checks.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: statusAddr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consuming settlement instructions",
			"topic", cfg.Kafka.SettlementTopic,
			"group", cfg.Kafka.ConsumerGroup,
		)
		return c.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func statusAddr() string {
	if addr := os.Getenv("SETTLEMENT_STATUS_ADDR"); addr != "" {
		return addr
	}
	return ":8081"
}

// logReleaser stands in for the payment provider integration.
func logReleaser(log *slog.Logger) settlement.Releaser {
	return settlement.ReleaserFunc(func(ctx context.Context, msg *events.SettlementMessage) error {
		log.InfoContext(ctx, "payment released",
			"settlement_id", msg.SettlementID,
			"package_id", msg.PackageID,
			"amount", msg.Amount,
			"auto_verified", msg.AutoVerified,
		)
		return nil
	})
}
