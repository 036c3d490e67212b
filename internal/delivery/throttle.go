package delivery

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/shohag/hookshot/internal/models"
)

// Throttle enforces each endpoint's rate_limit (deliveries per second).
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottle() *Throttle {
	return &Throttle{limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until ep may receive another delivery. Endpoints without a
// rate limit never wait.
func (t *Throttle) Wait(ctx context.Context, ep *models.Endpoint) error {
	if ep.RateLimit <= 0 {
		return nil
	}
	return t.limiter(ep.ID, ep.RateLimit).Wait(ctx)
}

func (t *Throttle) limiter(endpointID string, perSecond int) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[endpointID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		t.limiters[endpointID] = lim
		return lim
	}
	if lim.Limit() != rate.Limit(perSecond) {
		lim.SetLimit(rate.Limit(perSecond))
		lim.SetBurst(perSecond)
	}
	return lim
}
