package queue

import (
	"context"
	"time"

	"github.com/shohag/hookshot/internal/storage"
)

// StoreQueue uses the deliveries table itself as the queue: a row is due when
// its next_retry_at has passed. Claiming pushes next_retry_at forward by the
// lease so concurrent pollers skip in-flight rows.
type StoreQueue struct {
	store storage.Storage
	lease time.Duration
}

func NewStoreQueue(store storage.Storage, lease time.Duration) *StoreQueue {
	return &StoreQueue{store: store, lease: lease}
}

// Enqueue is a no-op: the delivery row already carries its schedule.
func (q *StoreQueue) Enqueue(ctx context.Context, deliveryID string, notBefore time.Time) error {
	return nil
}

// Ack is a no-op: terminal rows are never claimed again.
func (q *StoreQueue) Ack(ctx context.Context, deliveryID string) error {
	return nil
}

func (q *StoreQueue) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	deliveries, err := q.store.ClaimDue(ctx, now, now.Add(q.lease), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
