// Package settlement consumes settlement instructions relayed from the outbox and
// hands each one to the payment releaser exactly once per settlement ID.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"parcelproof/internal/events"
	"parcelproof/internal/platform/kafka/consumer"
	"parcelproof/internal/settlement/metrics"
)

// supportedVersion is the newest SettlementMessage schema this consumer understands.
const supportedVersion = 1

// Ledger remembers which settlements were released.
type Ledger interface {
	// Claim marks the settlement as being released. It returns false when the
	// settlement was already claimed.
	Claim(ctx context.Context, msg *events.SettlementMessage) (bool, error)
	// Forget removes a claim whose release failed so redelivery can retry it.
	Forget(ctx context.Context, settlementID string) error
}

// Releaser performs the downstream payment release.
type Releaser interface {
	Release(ctx context.Context, msg *events.SettlementMessage) error
}

// ReleaserFunc adapts a function to Releaser.
type ReleaserFunc func(ctx context.Context, msg *events.SettlementMessage) error

func (f ReleaserFunc) Release(ctx context.Context, msg *events.SettlementMessage) error {
	return f(ctx, msg)
}

// Handler implements consumer.Handler for settlement instructions.
type Handler struct {
	ledger   Ledger
	releaser Releaser
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures the Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a settlement consumer handler.
func NewHandler(ledger Ledger, releaser Releaser, opts ...Option) *Handler {
	h := &Handler{
		ledger:   ledger,
		releaser: releaser,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle releases the settlement carried by msg. Malformed messages are logged and
// committed so they cannot block the partition; ledger and release failures are
// returned so the message is redelivered.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	if eventType := msg.Headers["event_type"]; eventType != "" && eventType != events.EventTypeSettlement {
		h.logger.DebugContext(ctx, "skipping non-settlement message", "event_type", eventType)
		return nil
	}

	var st events.SettlementMessage
	if err := json.Unmarshal(msg.Value, &st); err != nil {
		h.malformed(ctx, msg, "decode", err)
		return nil
	}
	if st.Version < 1 || st.Version > supportedVersion {
		h.malformed(ctx, msg, "version", fmt.Errorf("unsupported version %d", st.Version))
		return nil
	}
	if st.SettlementID == "" || st.PackageID == "" || st.Amount < 0 {
		h.malformed(ctx, msg, "fields", fmt.Errorf("incomplete settlement message"))
		return nil
	}

	claimed, err := h.ledger.Claim(ctx, &st)
	if err != nil {
		h.incOutcome("failed")
		return fmt.Errorf("claim settlement %s: %w", st.SettlementID, err)
	}
	if !claimed {
		h.incOutcome("duplicate")
		h.logger.InfoContext(ctx, "settlement already released",
			"settlement_id", st.SettlementID,
			"package_id", st.PackageID,
			"offset", msg.Offset,
		)
		return nil
	}

	if err := h.releaser.Release(ctx, &st); err != nil {
		h.incOutcome("failed")
		if ferr := h.ledger.Forget(ctx, st.SettlementID); ferr != nil {
			h.logger.ErrorContext(ctx, "failed to drop settlement claim after release failure",
				"settlement_id", st.SettlementID,
				"error", ferr,
			)
		}
		return fmt.Errorf("release settlement %s: %w", st.SettlementID, err)
	}

	h.incOutcome("released")
	if h.metrics != nil {
		h.metrics.ObserveRelease(st.Amount)
	}
	h.logger.InfoContext(ctx, "settlement released",
		"settlement_id", st.SettlementID,
		"package_id", st.PackageID,
		"record_id", st.RecordID,
		"amount", st.Amount,
		"auto_verified", st.AutoVerified,
	)
	return nil
}

func (h *Handler) malformed(ctx context.Context, msg *consumer.Message, stage string, err error) {
	h.incOutcome("malformed")
	h.logger.ErrorContext(ctx, "dropping malformed settlement message",
		"stage", stage,
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", err,
	)
}

func (h *Handler) incOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.IncOutcome(outcome)
	}
}
