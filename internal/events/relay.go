package events

import (
	"encoding/json"
	"fmt"
	"time"

	"parcelproof/pkg/platform/outbox"
)

// Outbox routing for settlement instructions.
const (
	AggregatePackage        = "package"
	EventTypeSettlement     = "settlement_instruction"
	settlementSchemaVersion = 1
)

// SettlementMessage is the Kafka payload. Consumers dedupe on SettlementID.
type SettlementMessage struct {
	Version      int       `json:"version"`
	SettlementID string    `json:"settlement_id"`
	PackageID    string    `json:"package_id"`
	RecordID     string    `json:"record_id"`
	Amount       int64     `json:"amount"`
	AutoVerified bool      `json:"auto_verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// OutboxEntry builds the relay entry announcing st.
func OutboxEntry(st *Settlement) (*outbox.Entry, error) {
	payload, err := json.Marshal(SettlementMessage{
		Version:      settlementSchemaVersion,
		SettlementID: st.ID.String(),
		PackageID:    st.PackageID.String(),
		RecordID:     st.RecordID.String(),
		Amount:       st.Amount,
		AutoVerified: st.AutoVerified,
		CreatedAt:    st.CreatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal settlement message: %w", err)
	}
	return outbox.NewEntry(AggregatePackage, st.PackageID.String(), EventTypeSettlement, payload, st.CreatedAt), nil
}
