package delivery

import (
	"math"
	"time"

	"github.com/shohag/hookshot/internal/models"
)

const maxDelay = time.Duration(math.MaxInt64)

// ComputeDelay returns the wait before the next attempt once attempts tries
// have failed: initial * multiplier^(attempts-1), capped at the policy's max
// delay. A max delay of zero leaves the delay uncapped.
func ComputeDelay(attempts int, p models.RetryPolicy) time.Duration {
	exp := attempts - 1
	if exp < 0 {
		exp = 0
	}

	seconds := float64(p.InitialDelaySeconds) * math.Pow(p.BackoffMultiplier, float64(exp))
	if p.MaxDelaySeconds > 0 && seconds > float64(p.MaxDelaySeconds) {
		seconds = float64(p.MaxDelaySeconds)
	}
	if math.IsNaN(seconds) || seconds < 0 {
		return 0
	}
	if seconds >= maxDelay.Seconds() {
		return maxDelay
	}
	return time.Duration(seconds * float64(time.Second))
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
