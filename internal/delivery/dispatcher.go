package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/hookshot/internal/models"
	"github.com/shohag/hookshot/internal/queue"
	"github.com/shohag/hookshot/internal/storage"
)

// Dispatcher fans an event out into one delivery per matching healthy
// endpoint. It never performs HTTP calls itself.
type Dispatcher struct {
	registry *Registry
	store    storage.Storage
	queue    queue.Queue
	log      zerolog.Logger
	now      func() time.Time
}

func NewDispatcher(registry *Registry, store storage.Storage, q queue.Queue, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		store:    store,
		queue:    q,
		log:      log,
		now:      utcNow,
	}
}

// Dispatch records a delivery for every endpoint subscribed to eventType and
// hands each one to the queue. It returns as soon as the records exist.
//
// The event type is used exactly as given; padded names are rejected rather
// than trimmed so the stored type matches the X-Event-Type header.
//
// A registry failure is returned as is since nothing could be fanned out.
// Misconfigured endpoints are skipped. Failures to persist individual
// deliveries are joined into the returned error after the rest were created.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload json.RawMessage) ([]models.Delivery, error) {
	trimmed := strings.TrimSpace(eventType)
	if trimmed == "" {
		return nil, ErrEmptyEventType
	}
	if trimmed != eventType {
		return nil, ErrInvalidEventType
	}
	if err := checkPayload(payload); err != nil {
		return nil, err
	}

	endpoints, err := d.registry.FindMatchingHealthyEndpoints(ctx, eventType)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		d.log.Debug().Str("event_type", eventType).Msg("no endpoints subscribed")
		return nil, nil
	}

	now := d.now()
	created := make([]models.Delivery, 0, len(endpoints))
	var errs []error

	for i := range endpoints {
		ep := &endpoints[i]
		if err := ep.Validate(); err != nil {
			cfgErr := &ConfigurationError{EndpointID: ep.ID, Err: err}
			d.log.Warn().Err(cfgErr).Str("endpoint_id", ep.ID).Str("event_type", eventType).Msg("skipping misconfigured endpoint")
			continue
		}

		dlv := models.Delivery{
			ID:          models.NewID("dlv"),
			EndpointID:  ep.ID,
			EventType:   eventType,
			Payload:     append(json.RawMessage(nil), payload...),
			Attempts:    0,
			NextRetryAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := d.store.CreateDelivery(ctx, &dlv); err != nil {
			d.log.Error().Err(err).Str("endpoint_id", ep.ID).Str("event_type", eventType).Msg("failed to create delivery")
			errs = append(errs, fmt.Errorf("create delivery for endpoint %s: %w", ep.ID, err))
			continue
		}

		if err := d.queue.Enqueue(ctx, dlv.ID, dlv.NextRetryAt); err != nil {
			// The row is durable; `hookshot requeue` picks it up again.
			d.log.Error().Err(err).Str("delivery_id", dlv.ID).Msg("failed to enqueue delivery")
		}
		created = append(created, dlv)
	}

	recordDispatched(eventType, len(created))
	d.log.Info().
		Str("event_type", eventType).
		Int("endpoints", len(endpoints)).
		Int("deliveries", len(created)).
		Msg("event dispatched")

	return created, errors.Join(errs...)
}

// DispatchValue marshals v and dispatches it.
func (d *Dispatcher) DispatchValue(ctx context.Context, eventType string, v any) ([]models.Delivery, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return d.Dispatch(ctx, eventType, payload)
}

func checkPayload(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrNullPayload
	}
	if !json.Valid(trimmed) {
		return ErrInvalidPayload
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
