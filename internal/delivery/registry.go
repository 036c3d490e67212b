package delivery

import (
	"context"
	"fmt"

	"github.com/shohag/hookshot/internal/models"
	"github.com/shohag/hookshot/internal/storage"
)

// Registry answers which endpoints should receive an event and keeps their
// health counters. Counter updates are single-statement writes in the store,
// so concurrent completions for one endpoint never lose an update.
type Registry struct {
	store   storage.Storage
	ceiling int
}

func NewRegistry(store storage.Storage, failureCeiling int) *Registry {
	return &Registry{store: store, ceiling: failureCeiling}
}

func (r *Registry) Ceiling() int {
	return r.ceiling
}

// FindMatchingHealthyEndpoints returns active endpoints subscribed to
// eventType whose failure count is within the ceiling. Order is unspecified.
func (r *Registry) FindMatchingHealthyEndpoints(ctx context.Context, eventType string) ([]models.Endpoint, error) {
	active, err := r.store.ListActiveEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active endpoints: %w", err)
	}

	matched := make([]models.Endpoint, 0, len(active))
	for _, ep := range active {
		if ep.Events.Matches(eventType) && ep.Healthy(r.ceiling) {
			matched = append(matched, ep)
		}
	}
	return matched, nil
}

func (r *Registry) RecordSuccess(ctx context.Context, endpointID string) error {
	return r.store.ResetFailureCount(ctx, endpointID)
}

func (r *Registry) RecordPermanentFailure(ctx context.Context, endpointID string) error {
	return r.store.IncrementFailureCount(ctx, endpointID)
}
