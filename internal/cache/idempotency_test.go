package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/safar/stockroom/internal/config"
	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdempotency(t *testing.T, pendingTTL, ttl time.Duration) *Idempotency {
	t.Helper()

	client := NewRedisClient(config.RedisConfig{Addr: testutil.SetupRedis(t)})
	t.Cleanup(func() { _ = client.Close() })

	return NewIdempotency(client, pendingTTL, ttl)
}

func TestReserveCompleteReplay(t *testing.T) {
	idem := newTestIdempotency(t, 0, time.Minute)
	ctx := context.Background()

	_, reserved, err := idem.Reserve(ctx, 1, "abc")
	require.NoError(t, err)
	assert.True(t, reserved)

	_, _, err = idem.Reserve(ctx, 1, "abc")
	assert.ErrorIs(t, err, database.ErrDuplicateRequest)

	require.NoError(t, idem.Complete(ctx, 1, "abc", 77))

	orderID, reserved, err := idem.Reserve(ctx, 1, "abc")
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, int64(77), orderID)

	_, reserved, err = idem.Reserve(ctx, 2, "abc")
	require.NoError(t, err)
	assert.True(t, reserved, "keys are scoped per customer")
}

func TestReleaseAllowsRetry(t *testing.T) {
	idem := newTestIdempotency(t, 0, time.Minute)
	ctx := context.Background()

	_, reserved, err := idem.Reserve(ctx, 1, "retry")
	require.NoError(t, err)
	require.True(t, reserved)

	require.NoError(t, idem.Release(ctx, 1, "retry"))

	_, reserved, err = idem.Reserve(ctx, 1, "retry")
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	idem := newTestIdempotency(t, 0, time.Minute)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, reserved, err := idem.Reserve(ctx, 9, "race")
			if err == nil && reserved {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestPendingKeyExpiresBeforeCompletedKey(t *testing.T) {
	idem := newTestIdempotency(t, 300*time.Millisecond, time.Hour)
	ctx := context.Background()

	_, reserved, err := idem.Reserve(ctx, 3, "crash")
	require.NoError(t, err)
	require.True(t, reserved)

	pending, err := idem.client.PTTL(ctx, idempotencyKey(3, "crash")).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, pending, 300*time.Millisecond)

	// Nobody completes or releases the key, as after a crash mid-order.
	assert.Eventually(t, func() bool {
		_, reserved, err := idem.Reserve(ctx, 3, "crash")
		return err == nil && reserved
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, idem.Complete(ctx, 3, "crash", 42))

	completed, err := idem.client.PTTL(ctx, idempotencyKey(3, "crash")).Result()
	require.NoError(t, err)
	assert.Greater(t, completed, 59*time.Minute)
}

func TestNewIdempotencyPendingTTLFallback(t *testing.T) {
	assert.Equal(t, time.Hour, NewIdempotency(nil, 0, time.Hour).pendingTTL)
	assert.Equal(t, time.Hour, NewIdempotency(nil, 2*time.Hour, time.Hour).pendingTTL)
	assert.Equal(t, time.Second, NewIdempotency(nil, time.Second, time.Hour).pendingTTL)
}
