package storage

import (
	"context"
	"time"

	"github.com/shohag/hookshot/internal/models"
)

// Storage is the durable record store for endpoints, deliveries and attempts.
//
// Get methods return (nil, nil) when the row does not exist. Delivery
// transitions are conditional on the attempt count the caller observed and on
// the delivery being non-terminal; they report false when another writer got
// there first.
type Storage interface {
	// Endpoints
	CreateEndpoint(ctx context.Context, ep *models.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context) ([]models.Endpoint, error)
	ListActiveEndpoints(ctx context.Context) ([]models.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error
	ToggleEndpoint(ctx context.Context, id string, active bool) error
	DeleteEndpoint(ctx context.Context, id string) error
	ResetFailureCount(ctx context.Context, id string) error
	IncrementFailureCount(ctx context.Context, id string) error

	// Deliveries
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	ListDeliveriesByEndpoint(ctx context.Context, endpointID string, limit, offset int) ([]models.Delivery, error)
	DueForExecution(ctx context.Context, now time.Time, limit int) ([]models.Delivery, error)
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]models.Delivery, error)
	MarkDelivered(ctx context.Context, id string, observedAttempts int, status int, body string, at time.Time) (bool, error)
	RecordFailedAttempt(ctx context.Context, id string, observedAttempts int, status int, body string) (bool, error)
	ScheduleRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, attempts int, at time.Time) (bool, error)

	// Attempts
	CreateAttempt(ctx context.Context, a *models.Attempt) error
	GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.Attempt, error)

	// Stats
	GetStats(ctx context.Context, failureCeiling int) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalDeliveries    int64   `json:"total_deliveries"`
	DeliveredCount     int64   `json:"delivered_count"`
	FailedCount        int64   `json:"failed_count"`
	PendingCount       int64   `json:"pending_count"`
	SuccessRate        float64 `json:"success_rate"`
	TotalEndpoints     int64   `json:"total_endpoints"`
	ActiveEndpoints    int64   `json:"active_endpoints"`
	UnhealthyEndpoints int64   `json:"unhealthy_endpoints"`
}

func (s *Stats) computeRate() {
	if s.TotalDeliveries > 0 {
		s.SuccessRate = float64(s.DeliveredCount) / float64(s.TotalDeliveries) * 100
	}
}

var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
)
