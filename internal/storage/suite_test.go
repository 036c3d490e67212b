package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookshot/internal/models"
)

// runStorageSuite exercises the Storage contract against any implementation.
func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("endpoint roundtrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"shipment.delivered", "invoice.*"})
		ep.Headers = map[string]string{"X-Tenant": "acme"}
		ep.RateLimit = 5
		require.NoError(t, s.CreateEndpoint(ctx, ep))

		got, err := s.GetEndpoint(ctx, ep.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, ep.URL, got.URL)
		assert.Equal(t, ep.Secret, got.Secret)
		assert.Equal(t, ep.Events, got.Events)
		assert.Equal(t, ep.RetryPolicy, got.RetryPolicy)
		assert.Equal(t, ep.Headers, got.Headers)
		assert.Equal(t, 5, got.RateLimit)
		assert.True(t, got.Active)
		assert.Equal(t, 0, got.FailureCount)

		missing, err := s.GetEndpoint(ctx, "ep_missing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("active endpoints and toggle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		b := newTestEndpoint("https://example.com/b", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, a))
		require.NoError(t, s.CreateEndpoint(ctx, b))
		require.NoError(t, s.ToggleEndpoint(ctx, b.ID, false))

		active, err := s.ListActiveEndpoints(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, a.ID, active[0].ID)

		all, err := s.ListEndpoints(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("update and delete endpoint", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, ep))

		ep.URL = "https://example.com/changed"
		ep.Events = models.EventFilter{"invoice.paid"}
		ep.RetryPolicy.MaxAttempts = 9
		require.NoError(t, s.UpdateEndpoint(ctx, ep))

		got, err := s.GetEndpoint(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/changed", got.URL)
		assert.Equal(t, models.EventFilter{"invoice.paid"}, got.Events)
		assert.Equal(t, 9, got.RetryPolicy.MaxAttempts)

		require.NoError(t, s.DeleteEndpoint(ctx, ep.ID))
		got, err = s.GetEndpoint(ctx, ep.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("failure counter is atomic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, ep))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.IncrementFailureCount(ctx, ep.ID))
			}()
		}
		wg.Wait()

		got, err := s.GetEndpoint(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.FailureCount)

		require.NoError(t, s.ResetFailureCount(ctx, ep.ID))
		got, err = s.GetEndpoint(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.FailureCount)
	})

	t.Run("delivery roundtrip keeps payload bytes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, ep))

		now := time.Now().UTC().Truncate(time.Millisecond)
		d := newTestDelivery(ep.ID, now, json.RawMessage(`{"id": 42,  "b":[1,2]}`))
		require.NoError(t, s.CreateDelivery(ctx, d))

		got, err := s.GetDelivery(ctx, d.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, `{"id": 42,  "b":[1,2]}`, string(got.Payload))
		assert.Equal(t, 0, got.Attempts)
		assert.True(t, got.NextRetryAt.Equal(now))
		assert.Nil(t, got.HTTPStatus)
		assert.Nil(t, got.ResponseBody)
		assert.False(t, got.IsTerminal())

		list, err := s.ListDeliveriesByEndpoint(ctx, ep.ID, 10, 0)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		missing, err := s.GetDelivery(ctx, "dlv_missing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("due for execution", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, ep))

		now := time.Now().UTC()
		due := newTestDelivery(ep.ID, now.Add(-time.Minute), json.RawMessage(`{}`))
		later := newTestDelivery(ep.ID, now.Add(time.Hour), json.RawMessage(`{}`))
		done := newTestDelivery(ep.ID, now.Add(-time.Minute), json.RawMessage(`{}`))
		for _, d := range []*models.Delivery{due, later, done} {
			require.NoError(t, s.CreateDelivery(ctx, d))
		}
		ok, err := s.MarkDelivered(ctx, done.ID, 0, 200, "ok", now)
		require.NoError(t, err)
		require.True(t, ok)

		list, err := s.DueForExecution(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, due.ID, list[0].ID)
	})

	t.Run("claim hides deliveries until the lease expires", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, ep))

		now := time.Now().UTC()
		d := newTestDelivery(ep.ID, now.Add(-time.Second), json.RawMessage(`{}`))
		require.NoError(t, s.CreateDelivery(ctx, d))

		claimed, err := s.ClaimDue(ctx, now, now.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, d.ID, claimed[0].ID)

		again, err := s.ClaimDue(ctx, now.Add(time.Second), now.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, again)

		expired, err := s.ClaimDue(ctx, now.Add(2*time.Minute), now.Add(3*time.Minute), 10)
		require.NoError(t, err)
		assert.Len(t, expired, 1)

		none, err := s.ClaimDue(ctx, now, now, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("transitions are conditional on observed attempts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, ep))

		now := time.Now().UTC()
		d := newTestDelivery(ep.ID, now, json.RawMessage(`{}`))
		require.NoError(t, s.CreateDelivery(ctx, d))

		ok, err := s.RecordFailedAttempt(ctx, d.ID, 0, 500, "boom")
		require.NoError(t, err)
		assert.True(t, ok)

		// A racer that also observed attempts=0 loses.
		ok, err = s.RecordFailedAttempt(ctx, d.ID, 0, 502, "late")
		require.NoError(t, err)
		assert.False(t, ok)

		next := now.Add(10 * time.Second)
		ok, err = s.ScheduleRetry(ctx, d.ID, 1, next)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetDelivery(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.HTTPStatus)
		assert.Equal(t, 500, *got.HTTPStatus)
		require.NotNil(t, got.ResponseBody)
		assert.Equal(t, "boom", *got.ResponseBody)
		assert.WithinDuration(t, next, got.NextRetryAt, time.Millisecond)

		ok, err = s.MarkFailed(ctx, d.ID, 1, now)
		require.NoError(t, err)
		assert.True(t, ok)

		// Terminal deliveries accept no further transitions.
		ok, err = s.MarkDelivered(ctx, d.ID, 1, 200, "ok", now)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.MarkFailed(ctx, d.ID, 1, now)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err = s.GetDelivery(ctx, d.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.FailedAt)
		assert.Nil(t, got.DeliveredAt)
		assert.Equal(t, models.DeliveryFailed, got.State())
	})

	t.Run("mark delivered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, ep))

		now := time.Now().UTC()
		d := newTestDelivery(ep.ID, now, json.RawMessage(`{}`))
		require.NoError(t, s.CreateDelivery(ctx, d))

		ok, err := s.MarkDelivered(ctx, d.ID, 0, 204, "", now)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetDelivery(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.DeliveredAt)
		assert.WithinDuration(t, now, *got.DeliveredAt, time.Millisecond)
		assert.Equal(t, 204, *got.HTTPStatus)
	})

	t.Run("attempt history and stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ep := newTestEndpoint("https://example.com/a", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, ep))
		sick := newTestEndpoint("https://example.com/b", models.EventFilter{"*"})
		require.NoError(t, s.CreateEndpoint(ctx, sick))
		for i := 0; i < 3; i++ {
			require.NoError(t, s.IncrementFailureCount(ctx, sick.ID))
		}

		now := time.Now().UTC()
		d1 := newTestDelivery(ep.ID, now, json.RawMessage(`{}`))
		d2 := newTestDelivery(ep.ID, now, json.RawMessage(`{}`))
		require.NoError(t, s.CreateDelivery(ctx, d1))
		require.NoError(t, s.CreateDelivery(ctx, d2))
		_, err := s.MarkDelivered(ctx, d1.ID, 0, 200, "ok", now)
		require.NoError(t, err)

		for i := 1; i <= 2; i++ {
			require.NoError(t, s.CreateAttempt(ctx, &models.Attempt{
				ID:            models.NewID("att"),
				DeliveryID:    d2.ID,
				AttemptNumber: i,
				StatusCode:    500,
				ResponseBody:  "boom",
				LatencyMs:     12,
				CreatedAt:     now,
			}))
		}

		attempts, err := s.GetAttemptsByDelivery(ctx, d2.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, 1, attempts[0].AttemptNumber)
		assert.Equal(t, 2, attempts[1].AttemptNumber)

		stats, err := s.GetStats(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TotalDeliveries)
		assert.Equal(t, int64(1), stats.DeliveredCount)
		assert.Equal(t, int64(1), stats.PendingCount)
		assert.Equal(t, int64(0), stats.FailedCount)
		assert.Equal(t, 50.0, stats.SuccessRate)
		assert.Equal(t, int64(2), stats.TotalEndpoints)
		assert.Equal(t, int64(2), stats.ActiveEndpoints)
		assert.Equal(t, int64(1), stats.UnhealthyEndpoints)
	})
}

func newTestEndpoint(url string, events models.EventFilter) *models.Endpoint {
	now := time.Now().UTC()
	return &models.Endpoint{
		ID:     models.NewID("ep"),
		URL:    url,
		Secret: models.NewSecret(),
		Events: events,
		RetryPolicy: models.RetryPolicy{
			MaxAttempts:         5,
			InitialDelaySeconds: 60,
			BackoffMultiplier:   2,
			MaxDelaySeconds:     3600,
		},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestDelivery(endpointID string, nextRetryAt time.Time, payload json.RawMessage) *models.Delivery {
	now := time.Now().UTC()
	return &models.Delivery{
		ID:          models.NewID("dlv"),
		EndpointID:  endpointID,
		EventType:   "shipment.delivered",
		Payload:     payload,
		NextRetryAt: nextRetryAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
