package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is a pending message in the outbox table. It is written in the same
// transaction as the business change it announces.
type Entry struct {
	ID            uuid.UUID
	AggregateType string // e.g. "package"
	AggregateID   string // e.g. the package id; used as the Kafka key
	EventType     string // e.g. "settlement_instruction"
	Payload       []byte // JSON
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil until published
}

// IsPending returns true if this entry has not been processed yet.
func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry creates an entry with a random ID.
func NewEntry(aggregateType, aggregateID, eventType string, payload []byte, now time.Time) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
	}
}
