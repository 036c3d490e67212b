package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shohag/hookshot/internal/models"
)

func TestComputeDelay(t *testing.T) {
	defaults := models.RetryPolicy{MaxAttempts: 5, InitialDelaySeconds: 60, BackoffMultiplier: 2, MaxDelaySeconds: 3600}

	tests := []struct {
		name     string
		attempts int
		policy   models.RetryPolicy
		want     time.Duration
	}{
		{"first failure", 1, defaults, 60 * time.Second},
		{"second failure", 2, defaults, 120 * time.Second},
		{"third failure", 3, defaults, 240 * time.Second},
		{"fourth failure", 4, defaults, 480 * time.Second},
		{"capped", 8, defaults, 3600 * time.Second},
		{"far past cap", 60, defaults, 3600 * time.Second},
		{"zero attempts treated as first", 0, defaults, 60 * time.Second},
		{
			"multiplier three",
			2,
			models.RetryPolicy{InitialDelaySeconds: 10, BackoffMultiplier: 3, MaxDelaySeconds: 100},
			30 * time.Second,
		},
		{
			"multiplier three capped",
			4,
			models.RetryPolicy{InitialDelaySeconds: 10, BackoffMultiplier: 3, MaxDelaySeconds: 100},
			100 * time.Second,
		},
		{
			"constant backoff",
			7,
			models.RetryPolicy{InitialDelaySeconds: 15, BackoffMultiplier: 1, MaxDelaySeconds: 3600},
			15 * time.Second,
		},
		{
			"no cap",
			3,
			models.RetryPolicy{InitialDelaySeconds: 1000, BackoffMultiplier: 10},
			100000 * time.Second,
		},
		{
			"zero initial delay",
			3,
			models.RetryPolicy{InitialDelaySeconds: 0, BackoffMultiplier: 2, MaxDelaySeconds: 60},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeDelay(tt.attempts, tt.policy))
		})
	}
}

func TestComputeDelay_NeverExceedsCap(t *testing.T) {
	p := models.RetryPolicy{InitialDelaySeconds: 7, BackoffMultiplier: 2.5, MaxDelaySeconds: 500}
	for attempts := 1; attempts <= 200; attempts++ {
		d := ComputeDelay(attempts, p)
		assert.LessOrEqual(t, d, 500*time.Second, "attempts=%d", attempts)
		assert.GreaterOrEqual(t, d, time.Duration(0), "attempts=%d", attempts)
	}
}

func TestComputeDelay_Overflow(t *testing.T) {
	p := models.RetryPolicy{InitialDelaySeconds: 60, BackoffMultiplier: 10}
	assert.Equal(t, maxDelay, ComputeDelay(400, p))
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(200))
	assert.True(t, IsSuccess(204))
	assert.True(t, IsSuccess(299))
	assert.False(t, IsSuccess(199))
	assert.False(t, IsSuccess(301))
	assert.False(t, IsSuccess(500))
	assert.False(t, IsSuccess(0))
}
