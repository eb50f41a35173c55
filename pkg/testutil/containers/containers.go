//go:build integration

// Package containers starts the engine's backing services (Postgres, Redpanda
// and Redis) once per test binary and hands them to integration suites.
package containers

import (
	"sync"
	"testing"
)

// Manager lazily starts each backing service on first request. Containers are
// never terminated by a suite; the testcontainers reaper removes them when
// the test binary exits.
type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	kafka    *KafkaContainer
	redis    *RedisContainer
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the process-wide manager.
func GetManager() *Manager {
	managerOnce.Do(func() { manager = &Manager{} })
	return manager
}

// shared returns *slot, starting it with start when it is still nil.
func shared[C any](m *Manager, slot **C, t *testing.T, start func(*testing.T) *C) *C {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if *slot == nil {
		*slot = start(t)
	}
	return *slot
}

// GetPostgres returns the migrated Postgres shared by every suite.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return shared(m, &m.postgres, t, NewPostgresContainer)
}

// GetKafka returns the shared Redpanda broker.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	return shared(m, &m.kafka, t, NewKafkaContainer)
}

// GetRedis returns the shared Redis.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	return shared(m, &m.redis, t, NewRedisContainer)
}
