package kafka

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func TestReachable(t *testing.T) {
	t.Run("one live broker is enough", func(t *testing.T) {
		assert.NoError(t, Reachable(context.Background(), []string{"127.0.0.1:1", listen(t)}))
	})

	t.Run("no brokers configured", func(t *testing.T) {
		assert.ErrorIs(t, Reachable(context.Background(), nil), ErrNoBrokers)
	})

	t.Run("all brokers down", func(t *testing.T) {
		err := Reachable(context.Background(), []string{"127.0.0.1:1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no kafka brokers reachable")
	})
}

func TestWaitReachable(t *testing.T) {
	t.Run("returns once a broker answers", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, WaitReachable(ctx, []string{listen(t)}, 10*time.Millisecond))
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := WaitReachable(ctx, []string{"127.0.0.1:1"}, 10*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wait for kafka")
	})
}
