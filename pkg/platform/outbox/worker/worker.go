// Package worker relays outbox entries to Kafka with at-least-once delivery.
package worker

import (
	"context"
	"log/slog"
	"time"

	"parcelproof/internal/platform/kafka/producer"
	"parcelproof/pkg/platform/outbox"
	"parcelproof/pkg/platform/outbox/metrics"
)

// DefaultTopic carries settlement instructions.
const DefaultTopic = "parcelproof.settlement.instructions"

// Publisher is the subset of the Kafka producer the worker needs.
type Publisher interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Worker polls the outbox table and publishes entries.
type Worker struct {
	store        outbox.Store
	publisher    Publisher
	topic        string
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	drainTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures the Worker.
type Option func(*Worker)

func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithRetention sets how long processed entries are kept. Zero disables cleanup.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		w.retention = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func New(store outbox.Store, publisher Publisher, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		publisher:    publisher,
		topic:        DefaultTopic,
		batchSize:    100,
		pollInterval: 100 * time.Millisecond,
		retention:    7 * 24 * time.Hour,
		drainTimeout: 10 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Run polls until ctx is cancelled, then drains what is left with a short
// independent deadline. It always returns nil so it can sit in an errgroup.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	housekeeping := time.NewTicker(time.Minute)
	defer housekeeping.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		case <-housekeeping.C:
			w.housekeep(ctx)
		}
	}
}

// Poll publishes one batch and returns the number of entries marked processed.
// A failed entry stays pending and is retried on the next poll.
func (w *Worker) Poll(ctx context.Context) int {
	start := time.Now()

	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to fetch outbox entries", "error", err)
		w.metrics.Failed("")
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	published := 0
	for _, entry := range entries {
		if w.relay(ctx, entry) {
			published++
		}
	}

	w.metrics.Polled(len(entries), time.Since(start))
	return published
}

func (w *Worker) relay(ctx context.Context, entry *outbox.Entry) bool {
	start := time.Now()
	if err := w.publish(ctx, entry); err != nil {
		w.logger.ErrorContext(ctx, "failed to publish outbox entry",
			"id", entry.ID,
			"event_type", entry.EventType,
			"error", err,
		)
		w.metrics.Failed(entry.EventType)
		return false
	}
	if err := w.store.MarkProcessed(ctx, entry.ID, w.now()); err != nil {
		// Published but not marked: the next poll republishes and consumers
		// dedupe on the payload's own id.
		w.logger.ErrorContext(ctx, "failed to mark entry as processed", "id", entry.ID, "error", err)
		return false
	}
	w.metrics.Published(entry.EventType, time.Since(start))
	return true
}

func (w *Worker) publish(ctx context.Context, entry *outbox.Entry) error {
	msg := &producer.Message{
		Topic: w.topic,
		Key:   []byte(entry.AggregateID),
		Value: entry.Payload,
		Headers: map[string]string{
			"outbox_id":      entry.ID.String(),
			"aggregate_type": entry.AggregateType,
			"event_type":     entry.EventType,
		},
	}
	return w.publisher.Produce(ctx, msg)
}

func (w *Worker) drain() {
	w.logger.Info("draining outbox worker")
	ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()
	for ctx.Err() == nil {
		if w.Poll(ctx) == 0 {
			return
		}
	}
}

func (w *Worker) housekeep(ctx context.Context) {
	if w.retention > 0 {
		n, err := w.store.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
		if err != nil {
			w.logger.WarnContext(ctx, "failed to purge processed outbox entries", "error", err)
		} else {
			w.metrics.Purged(n)
		}
	}
	if err := w.UpdateMetrics(ctx); err != nil {
		w.logger.WarnContext(ctx, "failed to count pending outbox entries", "error", err)
	}
}

// UpdateMetrics refreshes the pending depth gauge.
func (w *Worker) UpdateMetrics(ctx context.Context) error {
	if w.metrics == nil {
		return nil
	}
	count, err := w.store.CountPending(ctx)
	if err != nil {
		return err
	}
	w.metrics.SetPending(count)
	return nil
}
