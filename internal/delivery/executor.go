package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/hookshot/internal/models"
	"github.com/shohag/hookshot/internal/signing"
	"github.com/shohag/hookshot/internal/storage"
)

// Outcome is what a single Execute call did to its delivery.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDuplicate means the delivery was already terminal; nothing was sent.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeDiscarded means another worker moved the delivery first and this
	// attempt's result was dropped.
	OutcomeDiscarded Outcome = "discarded"
)

// Executor performs one attempt of one delivery. It is safe to call more than
// once for the same delivery, including concurrently.
type Executor struct {
	store     storage.Storage
	registry  *Registry
	scheduler *Scheduler
	sender    *Sender
	throttle  *Throttle
	log       zerolog.Logger
	now       func() time.Time
}

func NewExecutor(store storage.Storage, registry *Registry, scheduler *Scheduler, sender *Sender, throttle *Throttle, log zerolog.Logger) *Executor {
	return &Executor{
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		sender:    sender,
		throttle:  throttle,
		log:       log,
		now:       utcNow,
	}
}

func (e *Executor) Execute(ctx context.Context, deliveryID string) (Outcome, error) {
	d, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return "", fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	if d == nil {
		return "", ErrDeliveryNotFound
	}
	if d.IsTerminal() {
		e.log.Debug().Str("delivery_id", d.ID).Str("state", string(d.State())).Msg("ignoring execution of finished delivery")
		recordOutcome(OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	ep, err := e.store.GetEndpoint(ctx, d.EndpointID)
	if err != nil {
		return "", fmt.Errorf("load endpoint %s: %w", d.EndpointID, err)
	}
	if ep == nil {
		return "", ErrEndpointNotFound
	}

	// A crash after the last failed attempt was counted but before it was
	// marked failed leaves the policy already spent; finish without sending.
	if d.Attempts >= max(ep.RetryPolicy.MaxAttempts, 1) {
		outcome, err := e.scheduler.ScheduleNext(context.WithoutCancel(ctx), d, ep)
		if err != nil {
			return "", err
		}
		recordOutcome(outcome)
		return outcome, nil
	}

	if err := e.throttle.Wait(ctx, ep); err != nil {
		return "", fmt.Errorf("wait for endpoint %s rate limit: %w", ep.ID, err)
	}

	attemptAt := e.now()
	result := e.attempt(ctx, d, ep, attemptAt)

	// The attempt happened; its result is persisted even if ctx is cancelled.
	persistCtx := context.WithoutCancel(ctx)

	var outcome Outcome
	if result.Success() {
		outcome, err = e.succeed(persistCtx, d, ep, result, attemptAt)
	} else {
		outcome, err = e.fail(persistCtx, d, ep, result, attemptAt)
	}
	if err != nil {
		return "", err
	}

	if outcome == OutcomeDiscarded {
		e.log.Info().Str("delivery_id", d.ID).Msg("delivery changed concurrently, attempt result discarded")
	}
	recordOutcome(outcome)
	return outcome, nil
}

func (e *Executor) attempt(ctx context.Context, d *models.Delivery, ep *models.Endpoint, at time.Time) *SendResult {
	if err := ep.Validate(); err != nil {
		return &SendResult{Err: &ConfigurationError{EndpointID: ep.ID, Err: err}}
	}

	signature, err := signing.Sign(ep.Secret, d.Payload)
	if err != nil {
		return &SendResult{Err: &ConfigurationError{EndpointID: ep.ID, Err: err}}
	}

	result := e.sender.Send(ctx, Request{
		URL:        ep.URL,
		DeliveryID: d.ID,
		EventType:  d.EventType,
		Signature:  signature,
		Timestamp:  at,
		Headers:    ep.Headers,
		Body:       d.Payload,
	})
	recordAttemptDuration(result.LatencyMs)
	return result
}

func (e *Executor) succeed(ctx context.Context, d *models.Delivery, ep *models.Endpoint, result *SendResult, at time.Time) (Outcome, error) {
	ok, err := e.store.MarkDelivered(ctx, d.ID, d.Attempts, result.StatusCode, result.ResponseBody, at)
	if err != nil {
		return "", fmt.Errorf("mark delivery %s delivered: %w", d.ID, err)
	}
	if !ok {
		return OutcomeDiscarded, nil
	}
	d.Attempts++
	d.DeliveredAt = &at
	e.recordHistory(ctx, d, result, at)

	if err := e.registry.RecordSuccess(ctx, ep.ID); err != nil {
		e.log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("failed to reset endpoint failure count")
	}

	e.log.Info().
		Str("delivery_id", d.ID).
		Str("endpoint_id", ep.ID).
		Str("event_type", d.EventType).
		Int("status_code", result.StatusCode).
		Int64("latency_ms", result.LatencyMs).
		Msg("delivery succeeded")
	return OutcomeDelivered, nil
}

func (e *Executor) fail(ctx context.Context, d *models.Delivery, ep *models.Endpoint, result *SendResult, at time.Time) (Outcome, error) {
	detail := result.ResponseBody
	if result.Err != nil {
		detail = result.Err.Error()
	}

	ok, err := e.store.RecordFailedAttempt(ctx, d.ID, d.Attempts, result.StatusCode, detail)
	if err != nil {
		return "", fmt.Errorf("record failed attempt for delivery %s: %w", d.ID, err)
	}
	if !ok {
		return OutcomeDiscarded, nil
	}
	d.Attempts++
	status := result.StatusCode
	d.HTTPStatus = &status
	d.ResponseBody = &detail
	e.recordHistory(ctx, d, result, at)

	event := e.log.Info()
	var cfgErr *ConfigurationError
	if errors.As(result.Err, &cfgErr) {
		event = e.log.Warn()
	}
	event.
		Err(result.Err).
		Str("delivery_id", d.ID).
		Str("endpoint_id", ep.ID).
		Int("attempt", d.Attempts).
		Int("status_code", result.StatusCode).
		Msg("delivery attempt failed")

	return e.scheduler.ScheduleNext(ctx, d, ep)
}

func (e *Executor) recordHistory(ctx context.Context, d *models.Delivery, result *SendResult, at time.Time) {
	attempt := &models.Attempt{
		ID:            models.NewID("att"),
		DeliveryID:    d.ID,
		AttemptNumber: d.Attempts,
		StatusCode:    result.StatusCode,
		ResponseBody:  result.ResponseBody,
		LatencyMs:     result.LatencyMs,
		CreatedAt:     at,
	}
	if result.Err != nil {
		attempt.Error = result.Err.Error()
	}

	if err := e.store.CreateAttempt(ctx, attempt); err != nil {
		e.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record attempt")
	}
}
