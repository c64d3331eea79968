package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRunLock_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("second holder is refused until release", func(t *testing.T) {
		lock := NewInMemoryRunLock()

		release, ok, err := lock.Acquire(ctx, "tenant-a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = lock.Acquire(ctx, "tenant-a", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = lock.Acquire(ctx, "tenant-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "keys are independent")

		require.NoError(t, release(ctx))
		_, ok, err = lock.Acquire(ctx, "tenant-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired holder is taken over", func(t *testing.T) {
		lock := NewInMemoryRunLock()
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		lock.now = func() time.Time { return now }

		_, ok, err := lock.Acquire(ctx, "tenant-a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		now = now.Add(30 * time.Second)
		_, ok, _ = lock.Acquire(ctx, "tenant-a", time.Minute)
		assert.False(t, ok)

		now = now.Add(31 * time.Second)
		_, ok, _ = lock.Acquire(ctx, "tenant-a", time.Minute)
		assert.True(t, ok)
	})

	t.Run("stale release does not free the new holder", func(t *testing.T) {
		lock := NewInMemoryRunLock()
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		lock.now = func() time.Time { return now }

		stale, ok, _ := lock.Acquire(ctx, "tenant-a", time.Second)
		require.True(t, ok)

		now = now.Add(2 * time.Second)
		_, ok, _ = lock.Acquire(ctx, "tenant-a", time.Minute)
		require.True(t, ok)

		require.NoError(t, stale(ctx))
		_, ok, _ = lock.Acquire(ctx, "tenant-a", time.Minute)
		assert.False(t, ok)
	})

	t.Run("zero ttl holds until release", func(t *testing.T) {
		lock := NewInMemoryRunLock()
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		lock.now = func() time.Time { return now }

		release, ok, _ := lock.Acquire(ctx, "tenant-a", 0)
		require.True(t, ok)

		now = now.Add(24 * time.Hour)
		_, ok, _ = lock.Acquire(ctx, "tenant-a", 0)
		assert.False(t, ok)

		require.NoError(t, release(ctx))
		require.NoError(t, release(ctx), "release is idempotent")
	})
}
