package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parcelproof/internal/events"
)

const (
	claimKeyPrefix = "settlement:released:"
	// DefaultRetention outlives any realistic redelivery window of the relay.
	DefaultRetention = 30 * 24 * time.Hour
)

// Redis is a ledger shared by every consumer instance of the group.
type Redis struct {
	client    redis.Cmdable
	retention time.Duration
}

func NewRedis(client redis.Cmdable, retention time.Duration) *Redis {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{client: client, retention: retention}
}

func claimKey(settlementID string) string {
	return claimKeyPrefix + settlementID
}

func (s *Redis) Claim(ctx context.Context, msg *events.SettlementMessage) (bool, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshal settlement claim: %w", err)
	}
	ok, err := s.client.SetNX(ctx, claimKey(msg.SettlementID), payload, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("claim settlement: %w", err)
	}
	return ok, nil
}

func (s *Redis) Forget(ctx context.Context, settlementID string) error {
	if err := s.client.Del(ctx, claimKey(settlementID)).Err(); err != nil {
		return fmt.Errorf("forget settlement claim: %w", err)
	}
	return nil
}
