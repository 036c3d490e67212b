package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shohag/hookshot/internal/models"
)

// PostgresStorage implements Storage on a pgx connection pool. Due deliveries
// are claimed with FOR UPDATE SKIP LOCKED so several hookshot processes can
// share one database.
type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string, maxConns int) (*PostgresStorage, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStorage{db: pool}, nil
}

func (s *PostgresStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL,
			events TEXT NOT NULL DEFAULT '[]',
			max_attempts INTEGER NOT NULL DEFAULT 5,
			initial_delay_seconds INTEGER NOT NULL DEFAULT 60,
			backoff_multiplier DOUBLE PRECISION NOT NULL DEFAULT 2,
			max_delay_seconds INTEGER NOT NULL DEFAULT 3600,
			rate_limit INTEGER NOT NULL DEFAULT 0,
			headers TEXT NOT NULL DEFAULT '{}',
			failure_count INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMPTZ NOT NULL,
			http_status INTEGER,
			response_body TEXT,
			delivered_at TIMESTAMPTZ,
			failed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT deliveries_single_outcome CHECK (delivered_at IS NULL OR failed_at IS NULL)
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			delivery_id TEXT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			latency_ms BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_active ON endpoints(active)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_endpoint ON deliveries(endpoint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(next_retry_at) WHERE delivered_at IS NULL AND failed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_delivery ON attempts(delivery_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	s.db.Close()
	return nil
}

// --- Endpoints ---

func (s *PostgresStorage) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	events, headers := encodeEndpointJSON(ep)
	_, err := s.db.Exec(ctx,
		`INSERT INTO endpoints (`+endpointColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		ep.ID, ep.URL, ep.Description, ep.Secret, events,
		ep.RetryPolicy.MaxAttempts, ep.RetryPolicy.InitialDelaySeconds, ep.RetryPolicy.BackoffMultiplier, ep.RetryPolicy.MaxDelaySeconds,
		ep.RateLimit, headers, ep.FailureCount, ep.Active, ep.CreatedAt.UTC(), ep.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	return nil
}

func (s *PostgresStorage) scanEndpoint(row pgx.Row) (*models.Endpoint, error) {
	var ep models.Endpoint
	var events, headers string
	err := row.Scan(&ep.ID, &ep.URL, &ep.Description, &ep.Secret, &events,
		&ep.RetryPolicy.MaxAttempts, &ep.RetryPolicy.InitialDelaySeconds, &ep.RetryPolicy.BackoffMultiplier, &ep.RetryPolicy.MaxDelaySeconds,
		&ep.RateLimit, &headers, &ep.FailureCount, &ep.Active, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeEndpointJSON(&ep, []byte(events), []byte(headers)); err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *PostgresStorage) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	ep, err := s.scanEndpoint(s.db.QueryRow(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return ep, nil
}

func (s *PostgresStorage) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	return s.queryEndpoints(ctx, `SELECT `+endpointColumns+` FROM endpoints ORDER BY created_at DESC`)
}

func (s *PostgresStorage) ListActiveEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	return s.queryEndpoints(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE active ORDER BY created_at DESC`)
}

func (s *PostgresStorage) queryEndpoints(ctx context.Context, query string, args ...any) ([]models.Endpoint, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *PostgresStorage) UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	events, headers := encodeEndpointJSON(ep)
	_, err := s.db.Exec(ctx,
		`UPDATE endpoints SET url = $1, description = $2, secret = $3, events = $4, max_attempts = $5, initial_delay_seconds = $6,
		 backoff_multiplier = $7, max_delay_seconds = $8, rate_limit = $9, headers = $10, active = $11, updated_at = NOW()
		 WHERE id = $12`,
		ep.URL, ep.Description, ep.Secret, events, ep.RetryPolicy.MaxAttempts, ep.RetryPolicy.InitialDelaySeconds,
		ep.RetryPolicy.BackoffMultiplier, ep.RetryPolicy.MaxDelaySeconds, ep.RateLimit, headers, ep.Active, ep.ID,
	)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ToggleEndpoint(ctx context.Context, id string, active bool) error {
	_, err := s.db.Exec(ctx, `UPDATE endpoints SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	return err
}

func (s *PostgresStorage) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) ResetFailureCount(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE endpoints SET failure_count = 0, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) IncrementFailureCount(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE endpoints SET failure_count = failure_count + 1, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// --- Deliveries ---

func (s *PostgresStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO deliveries (id, endpoint_id, event_type, payload, attempts, next_retry_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.EndpointID, d.EventType, string(d.Payload), d.Attempts, d.NextRetryAt.UTC(), d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (s *PostgresStorage) scanDelivery(row pgx.Row) (*models.Delivery, error) {
	var d models.Delivery
	var payload string
	err := row.Scan(&d.ID, &d.EndpointID, &d.EventType, &payload, &d.Attempts, &d.NextRetryAt, &d.HTTPStatus,
		&d.ResponseBody, &d.DeliveredAt, &d.FailedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	return &d, nil
}

func (s *PostgresStorage) queryDeliveries(ctx context.Context, query string, args ...any) ([]models.Delivery, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func (s *PostgresStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	d, err := s.scanDelivery(s.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

func (s *PostgresStorage) ListDeliveriesByEndpoint(ctx context.Context, endpointID string, limit, offset int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryDeliveries(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE endpoint_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		endpointID, limit, offset)
}

func (s *PostgresStorage) DueForExecution(ctx context.Context, now time.Time, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryDeliveries(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE `+nonTerminal+` AND next_retry_at <= $1 ORDER BY next_retry_at ASC LIMIT $2`,
		now.UTC(), limit)
}

func (s *PostgresStorage) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryDeliveries(ctx,
		`UPDATE deliveries SET next_retry_at = $1, updated_at = $2
		 WHERE id IN (
			SELECT id FROM deliveries
			WHERE `+nonTerminal+` AND next_retry_at <= $2
			ORDER BY next_retry_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+deliveryColumns,
		leaseUntil.UTC(), now.UTC(), limit)
}

func (s *PostgresStorage) MarkDelivered(ctx context.Context, id string, observedAttempts int, status int, body string, at time.Time) (bool, error) {
	return s.transition(ctx,
		`UPDATE deliveries SET attempts = attempts + 1, http_status = $1, response_body = $2, delivered_at = $3, updated_at = NOW()
		 WHERE id = $4 AND attempts = $5 AND `+nonTerminal,
		status, body, at.UTC(), id, observedAttempts)
}

func (s *PostgresStorage) RecordFailedAttempt(ctx context.Context, id string, observedAttempts int, status int, body string) (bool, error) {
	return s.transition(ctx,
		`UPDATE deliveries SET attempts = attempts + 1, http_status = $1, response_body = $2, updated_at = NOW()
		 WHERE id = $3 AND attempts = $4 AND `+nonTerminal,
		status, body, id, observedAttempts)
}

func (s *PostgresStorage) ScheduleRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time) (bool, error) {
	return s.transition(ctx,
		`UPDATE deliveries SET next_retry_at = $1, updated_at = NOW() WHERE id = $2 AND attempts = $3 AND `+nonTerminal,
		nextRetryAt.UTC(), id, attempts)
}

func (s *PostgresStorage) MarkFailed(ctx context.Context, id string, attempts int, at time.Time) (bool, error) {
	return s.transition(ctx,
		`UPDATE deliveries SET failed_at = $1, updated_at = NOW() WHERE id = $2 AND attempts = $3 AND `+nonTerminal,
		at.UTC(), id, attempts)
}

func (s *PostgresStorage) transition(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Attempts ---

func (s *PostgresStorage) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO attempts (id, delivery_id, attempt_number, status_code, response_body, latency_ms, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.DeliveryID, a.AttemptNumber, a.StatusCode, a.ResponseBody, a.LatencyMs, a.Error, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.Attempt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, delivery_id, attempt_number, status_code, response_body, latency_ms, error, created_at
		 FROM attempts WHERE delivery_id = $1 ORDER BY attempt_number`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.AttemptNumber, &a.StatusCode, &a.ResponseBody, &a.LatencyMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Stats ---

func (s *PostgresStorage) GetStats(ctx context.Context, failureCeiling int) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(delivered_at),
			COUNT(failed_at),
			COUNT(*) FILTER (WHERE `+nonTerminal+`)
		 FROM deliveries`,
	).Scan(&stats.TotalDeliveries, &stats.DeliveredCount, &stats.FailedCount, &stats.PendingCount)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}

	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE active),
			COUNT(*) FILTER (WHERE failure_count > $1)
		 FROM endpoints`, failureCeiling,
	).Scan(&stats.TotalEndpoints, &stats.ActiveEndpoints, &stats.UnhealthyEndpoints)
	if err != nil {
		return nil, fmt.Errorf("endpoint stats: %w", err)
	}

	stats.computeRate()
	return stats, nil
}
