package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookshot/internal/models"
	"github.com/shohag/hookshot/internal/storage"
)

func TestStoreQueue_ClaimsDueRows(t *testing.T) {
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	now := time.Now().UTC()
	ep := &models.Endpoint{
		ID:          models.NewID("ep"),
		URL:         "https://example.com",
		Secret:      models.NewSecret(),
		Events:      models.EventFilter{"*"},
		RetryPolicy: models.RetryPolicy{MaxAttempts: 3, InitialDelaySeconds: 1, BackoffMultiplier: 2, MaxDelaySeconds: 10},
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateEndpoint(ctx, ep))

	d := &models.Delivery{
		ID:          models.NewID("dlv"),
		EndpointID:  ep.ID,
		EventType:   "shipment.delivered",
		Payload:     json.RawMessage(`{}`),
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateDelivery(ctx, d))

	q := NewStoreQueue(store, time.Minute)
	require.NoError(t, q.Enqueue(ctx, d.ID, now))

	ids, err := q.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID}, ids)

	ids, err = q.Due(ctx, now.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = q.Due(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID}, ids)
}
