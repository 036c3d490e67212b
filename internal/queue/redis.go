package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript leases up to ARGV[2] members scored at or below ARGV[1] by
// re-scoring them to ARGV[3], in one round trip, so two pollers never receive
// the same id while the lease runs. Members are only removed by Ack.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZADD', KEYS[1], 'XX', ARGV[3], id)
end
return ids
`)

// RedisQueue keeps pending delivery ids in a sorted set scored by their
// earliest execution time in Unix milliseconds. A claimed id stays in the set
// with its score pushed forward by the lease; if nobody acks or re-enqueues it
// in time it becomes due again.
type RedisQueue struct {
	client *redis.Client
	key    string
	lease  time.Duration
}

func NewRedisQueue(client *redis.Client, key string, lease time.Duration) *RedisQueue {
	if lease <= 0 {
		lease = time.Minute
	}
	return &RedisQueue{client: client, key: key, lease: lease}
}

// DialRedis connects and pings so a bad address fails at startup.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, deliveryID string, notBefore time.Time) error {
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: deliveryID,
	}).Err()
}

func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := claimScript.Run(ctx, q.client, []string{q.key},
		now.UnixMilli(), limit, now.Add(q.lease).UnixMilli()).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	return ids, nil
}

// Ack drops a finished delivery from the set.
func (q *RedisQueue) Ack(ctx context.Context, deliveryID string) error {
	return q.client.ZRem(ctx, q.key, deliveryID).Err()
}

// Len reports how many ids are waiting, due or not.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
