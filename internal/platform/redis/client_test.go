package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelproof/internal/platform/config"
)

func TestNew_EmptyURLMeansUnconfigured(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNew_RejectsMalformedURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "http://not-redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis URL")
}

func TestApplyOverrides(t *testing.T) {
	opts, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(t, err)
	before := opts.ReadTimeout

	applyOverrides(opts, config.RedisConfig{PoolSize: 42, DialTimeout: 2 * time.Second})

	assert.Equal(t, 42, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
	assert.Equal(t, before, opts.ReadTimeout, "zero values keep the parsed setting")
}

func TestPoolCollector(t *testing.T) {
	pc := &poolCollector{stats: func() *redis.PoolStats {
		return &redis.PoolStats{Hits: 7, Misses: 2, TotalConns: 3, IdleConns: 1}
	}}

	assert.Equal(t, 6, testutil.CollectAndCount(pc))

	expected := `
# HELP parcelproof_redis_pool_hits_total Connections found idle in the pool.
# TYPE parcelproof_redis_pool_hits_total counter
parcelproof_redis_pool_hits_total 7
# HELP parcelproof_redis_pool_idle_conns Idle connections in the pool.
# TYPE parcelproof_redis_pool_idle_conns gauge
parcelproof_redis_pool_idle_conns 1
`
	require.NoError(t, testutil.CollectAndCompare(pc, strings.NewReader(expected),
		"parcelproof_redis_pool_hits_total", "parcelproof_redis_pool_idle_conns"))
}
