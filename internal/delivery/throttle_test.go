package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookshot/internal/models"
)

func TestThrottle_UnlimitedNeverWaits(t *testing.T) {
	th := NewThrottle()
	ep := &models.Endpoint{ID: "ep_1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		require.NoError(t, th.Wait(ctx, ep))
	}
}

func TestThrottle_LimitsPerEndpoint(t *testing.T) {
	th := NewThrottle()
	limited := &models.Endpoint{ID: "ep_limited", RateLimit: 2}
	other := &models.Endpoint{ID: "ep_other", RateLimit: 2}

	ctx := context.Background()
	require.NoError(t, th.Wait(ctx, limited))
	require.NoError(t, th.Wait(ctx, limited))

	// The burst is spent; a third call inside the same instant has to wait.
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(short, limited))

	// Other endpoints have their own budget.
	require.NoError(t, th.Wait(ctx, other))
}

func TestThrottle_PicksUpLimitChanges(t *testing.T) {
	th := NewThrottle()
	ep := &models.Endpoint{ID: "ep_1", RateLimit: 1}

	require.NoError(t, th.Wait(context.Background(), ep))

	ep.RateLimit = 1000
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, th.Wait(ctx, ep))
}
