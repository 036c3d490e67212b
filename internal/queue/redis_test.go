package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewRedisQueue(client, "hookshot:test", time.Minute)
}

func TestRedisQueue_DueHonoursNotBefore(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, "dlv_now", now))
	require.NoError(t, q.Enqueue(ctx, "dlv_past", now.Add(-time.Minute)))
	require.NoError(t, q.Enqueue(ctx, "dlv_later", now.Add(time.Hour)))

	ids, err := q.Due(ctx, now, 10)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"dlv_now", "dlv_past"}, ids)

	ids, err = q.Due(ctx, now.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, q.Ack(ctx, "dlv_now"))
	require.NoError(t, q.Ack(ctx, "dlv_past"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err = q.Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dlv_later"}, ids)
}

func TestRedisQueue_UnackedClaimReturnsAfterLease(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, "dlv_1", now))

	ids, err := q.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"dlv_1"}, ids)

	// The worker holding the claim goes away without acking.
	ids, err = q.Due(ctx, now.Add(59*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = q.Due(ctx, now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dlv_1"}, ids)
}

func TestRedisQueue_AckedClaimNeverReturns(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, "dlv_1", now))
	ids, err := q.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.NoError(t, q.Ack(ctx, "dlv_1"))

	ids, err = q.Due(ctx, now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisQueue_DueRespectsLimit(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id, now.Add(-time.Second)))
	}

	ids, err := q.Due(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	ids, err = q.Due(ctx, now, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = q.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestRedisQueue_EachIDClaimedOnce(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	now := time.Now()

	const total = 50
	for i := 0; i < total; i++ {
		require.NoError(t, q.Enqueue(ctx, fmt.Sprintf("dlv_%02d", i), now))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ids, err := q.Due(ctx, now, 3)
				if !assert.NoError(t, err) || len(ids) == 0 {
					return
				}
				mu.Lock()
				for _, id := range ids {
					seen[id]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s claimed more than once", id)
	}
}

func TestRedisQueue_ReenqueueMovesScore(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, "dlv_1", now.Add(-time.Second)))
	require.NoError(t, q.Enqueue(ctx, "dlv_1", now.Add(time.Minute)))

	ids, err := q.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDialRedis_Unreachable(t *testing.T) {
	_, err := DialRedis(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
