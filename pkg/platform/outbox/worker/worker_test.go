package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"parcelproof/internal/platform/kafka/producer"
	"parcelproof/pkg/platform/outbox"
	"parcelproof/pkg/platform/outbox/store/memory"
	"parcelproof/pkg/platform/outbox/worker"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []*producer.Message
	failFor  map[string]bool
}

func (p *fakePublisher) Produce(_ context.Context, msg *producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[msg.Headers["event_type"]] {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) sent() []*producer.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*producer.Message(nil), p.messages...)
}

type WorkerSuite struct {
	suite.Suite
	ctx       context.Context
	store     *memory.Store
	publisher *fakePublisher
	base      time.Time
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.publisher = &fakePublisher{failFor: map[string]bool{}}
	s.base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
}

func (s *WorkerSuite) appendEntry(pkg, eventType string, offset time.Duration) *outbox.Entry {
	e := outbox.NewEntry("package", pkg, eventType, []byte(`{"package_id":"`+pkg+`"}`), s.base.Add(offset))
	s.Require().NoError(s.store.Append(s.ctx, e))
	return e
}

func (s *WorkerSuite) TestPollPublishesOldestFirstKeyedByAggregate() {
	second := s.appendEntry("PKG-2", "settlement_instruction", time.Second)
	first := s.appendEntry("PKG-1", "settlement_instruction", 0)

	w := worker.New(s.store, s.publisher)
	s.Equal(2, w.Poll(s.ctx))

	sent := s.publisher.sent()
	s.Require().Len(sent, 2)
	s.Equal("PKG-1", string(sent[0].Key))
	s.Equal(first.ID.String(), sent[0].Headers["outbox_id"])
	s.Equal(second.ID.String(), sent[1].Headers["outbox_id"])
	s.Equal(worker.DefaultTopic, sent[0].Topic)

	pending, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *WorkerSuite) TestFailedEntryStaysPending() {
	s.appendEntry("PKG-1", "settlement_instruction", 0)
	s.appendEntry("PKG-2", "poison", time.Second)
	s.publisher.failFor["poison"] = true

	w := worker.New(s.store, s.publisher, worker.WithTopic("settlements-test"))
	s.Equal(1, w.Poll(s.ctx))

	pending, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), pending)

	s.publisher.failFor["poison"] = false
	s.Equal(1, w.Poll(s.ctx))
	s.Len(s.publisher.sent(), 2)
}

func (s *WorkerSuite) TestBatchSizeBoundsOnePoll() {
	for i := range 5 {
		s.appendEntry("PKG-1", "settlement_instruction", time.Duration(i)*time.Second)
	}
	w := worker.New(s.store, s.publisher, worker.WithBatchSize(2))
	s.Equal(2, w.Poll(s.ctx))
	s.Equal(2, w.Poll(s.ctx))
	s.Equal(1, w.Poll(s.ctx))
	s.Equal(0, w.Poll(s.ctx))
}

func (s *WorkerSuite) TestRunDrainsOnShutdown() {
	w := worker.New(s.store, s.publisher, worker.WithPollInterval(time.Hour))
	s.appendEntry("PKG-1", "settlement_instruction", 0)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("worker did not stop")
	}
	s.Len(s.publisher.sent(), 1)
}
