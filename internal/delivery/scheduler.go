package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/hookshot/internal/models"
	"github.com/shohag/hookshot/internal/queue"
	"github.com/shohag/hookshot/internal/storage"
)

// Scheduler decides what happens after a failed attempt: another try after
// an exponential backoff, or permanent failure once the policy is exhausted.
type Scheduler struct {
	store    storage.Storage
	registry *Registry
	queue    queue.Queue
	log      zerolog.Logger
	now      func() time.Time
}

func NewScheduler(store storage.Storage, registry *Registry, q queue.Queue, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		registry: registry,
		queue:    q,
		log:      log,
		now:      utcNow,
	}
}

// ScheduleNext must be called after d.Attempts already counts the attempt
// that just failed. Endpoint health is only touched on permanent failure.
func (s *Scheduler) ScheduleNext(ctx context.Context, d *models.Delivery, ep *models.Endpoint) (Outcome, error) {
	now := s.now()

	if d.Attempts >= ep.RetryPolicy.MaxAttempts {
		ok, err := s.store.MarkFailed(ctx, d.ID, d.Attempts, now)
		if err != nil {
			return "", fmt.Errorf("mark delivery %s failed: %w", d.ID, err)
		}
		if !ok {
			return OutcomeDiscarded, nil
		}
		d.FailedAt = &now

		if err := s.registry.RecordPermanentFailure(ctx, ep.ID); err != nil {
			s.log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("failed to record endpoint failure")
		}

		s.log.Warn().
			Err(ErrPermanentFailure).
			Str("delivery_id", d.ID).
			Str("endpoint_id", ep.ID).
			Int("attempts", d.Attempts).
			Msg("delivery permanently failed")
		return OutcomeFailed, nil
	}

	next := now.Add(ComputeDelay(d.Attempts, ep.RetryPolicy))
	ok, err := s.store.ScheduleRetry(ctx, d.ID, d.Attempts, next)
	if err != nil {
		return "", fmt.Errorf("schedule retry for delivery %s: %w", d.ID, err)
	}
	if !ok {
		return OutcomeDiscarded, nil
	}
	d.NextRetryAt = next

	if err := s.queue.Enqueue(ctx, d.ID, next); err != nil {
		s.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to enqueue retry")
	}

	s.log.Info().
		Str("delivery_id", d.ID).
		Int("attempt", d.Attempts).
		Time("next_retry", next).
		Msg("delivery scheduled for retry")
	return OutcomeRetry, nil
}
