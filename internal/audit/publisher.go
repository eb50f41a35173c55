package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"parcelproof/pkg/requestcontext"
)

// persistTimeout bounds a background append so a stalled store cannot wedge Close.
const persistTimeout = 5 * time.Second

// Metrics counts audit traffic by action.
type Metrics struct {
	Emitted *prometheus.CounterVec
	Dropped *prometheus.CounterVec
	Failed  *prometheus.CounterVec
}

// NewMetrics registers the audit counters.
func NewMetrics() *Metrics {
	return &Metrics{
		Emitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_audit_events_total",
			Help: "Audit events accepted by the publisher, labeled by action",
		}, []string{"action"}),
		Dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_audit_events_dropped_total",
			Help: "Audit events dropped because the async buffer was full",
		}, []string{"action"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_audit_events_failed_total",
			Help: "Audit events the store refused to persist",
		}, []string{"action"}),
	}
}

func (m *Metrics) emitted(action string) {
	if m != nil {
		m.Emitted.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) dropped(action string) {
	if m != nil {
		m.Dropped.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) failed(action string) {
	if m != nil {
		m.Failed.WithLabelValues(action).Inc()
	}
}

// Publisher records audit events for identity and handover activity. In sync
// mode Emit returns the store's error; in async mode events are buffered and
// a full buffer drops the event rather than slowing the handover.
type Publisher struct {
	store   Store
	queue   chan Event
	done    sync.WaitGroup
	logger  *slog.Logger
	metrics *Metrics
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer queues up to size events for a background writer.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan Event, size)
		}
	}
}

// WithPublisherLogger sets the logger for background persistence failures.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics enables the audit counters.
func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.queue != nil {
		p.done.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer p.done.Done()
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := p.store.Append(ctx, event)
		cancel()
		if err != nil {
			p.metrics.failed(event.Action)
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", event.Action,
				"user_id", event.UserID,
				"package_id", event.PackageID,
			)
		}
	}
}

// Close stops accepting async events and waits for the queue to drain.
// Emit must not be called after Close.
func (p *Publisher) Close() {
	if p.queue != nil {
		close(p.queue)
		p.done.Wait()
	}
}

// Emit stamps the event with the request's time and id when unset, then
// persists or queues it.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	p.metrics.emitted(event.Action)

	if p.queue == nil {
		if err := p.store.Append(ctx, event); err != nil {
			p.metrics.failed(event.Action)
			return err
		}
		return nil
	}

	select {
	case p.queue <- event:
	default:
		p.metrics.dropped(event.Action)
		p.logger.Warn("audit buffer full, event dropped",
			"action", event.Action,
			"user_id", event.UserID,
			"package_id", event.PackageID,
		)
	}
	return nil
}

func (p *Publisher) ListByUser(ctx context.Context, userID string) ([]Event, error) {
	return p.store.ListByUser(ctx, userID)
}

func (p *Publisher) ListByPackage(ctx context.Context, packageID string) ([]Event, error) {
	return p.store.ListByPackage(ctx, packageID)
}
