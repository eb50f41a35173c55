package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelproof/pkg/platform/sentinel"
)

func TestInMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewInMemory(WithClock(func() time.Time { return now }))

	_, err := r.Latest(ctx, "PKG-1")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, r.Publish(ctx, "PKG-1", []byte("first"), now.Add(24*time.Hour)))
	require.NoError(t, r.Publish(ctx, "PKG-1", []byte("second"), now.Add(24*time.Hour)))

	got, err := r.Latest(ctx, "PKG-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got, "latest publish wins")

	got[0] = 'X'
	again, err := r.Latest(ctx, "PKG-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), again)

	now = now.Add(24*time.Hour + retention + time.Second)
	_, err = r.Latest(ctx, "PKG-1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
