package dao

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cooldownBackends(t *testing.T) map[string]CooldownStore {
	rdb, _ := newTestRedis(t)
	return map[string]CooldownStore{
		BackendSQL:   NewSQLCooldownStore(newTestDB(t)),
		BackendRedis: NewRedisCooldownStore(rdb),
	}
}

func rateWindowBackends(t *testing.T) map[string]RateWindowStore {
	rdb, _ := newTestRedis(t)
	return map[string]RateWindowStore{
		BackendSQL:   NewSQLRateWindowStore(newTestDB(t)),
		BackendRedis: NewRedisRateWindowStore(rdb),
	}
}

func TestCooldownStore_KindsAreIndependent(t *testing.T) {
	for name, store := range cooldownBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := store.LastAction(ctx, "u1", "confession")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, store.Touch(ctx, "u1", "confession", baseTime))
			require.NoError(t, store.Touch(ctx, "u1", "comment", baseTime.Add(5*time.Second)))
			require.NoError(t, store.Touch(ctx, "u1", "confession", baseTime.Add(10*time.Second)))

			at, found, err := store.LastAction(ctx, "u1", "confession")
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, at.Equal(baseTime.Add(10*time.Second)))

			at, found, err = store.LastAction(ctx, "u1", "comment")
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, at.Equal(baseTime.Add(5*time.Second)))

			_, found, err = store.LastAction(ctx, "u2", "confession")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestRateWindowStore_AppendSinceCompact(t *testing.T) {
	for name, store := range rateWindowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// 同一毫秒两次追加都保留
			require.NoError(t, store.Append(ctx, "u1", "comment", baseTime))
			require.NoError(t, store.Append(ctx, "u1", "comment", baseTime))
			require.NoError(t, store.Append(ctx, "u1", "comment", baseTime.Add(20*time.Second)))
			require.NoError(t, store.Append(ctx, "u2", "comment", baseTime))

			all, err := store.Since(ctx, "u1", "comment", baseTime.Add(-time.Millisecond))
			require.NoError(t, err)
			assert.Len(t, all, 3)

			recent, err := store.Since(ctx, "u1", "comment", baseTime)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.True(t, recent[0].Equal(baseTime.Add(20*time.Second)))

			removed, err := store.Compact(ctx, "u1", "comment", baseTime)
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)

			removed, err = store.CompactAll(ctx, "comment", baseTime.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)

			left, err := store.Since(ctx, "u1", "comment", time.Time{})
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}
