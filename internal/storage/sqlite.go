package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shohag/hookshot/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL,
			events TEXT NOT NULL DEFAULT '[]',
			max_attempts INTEGER NOT NULL DEFAULT 5,
			initial_delay_seconds INTEGER NOT NULL DEFAULT 60,
			backoff_multiplier REAL NOT NULL DEFAULT 2,
			max_delay_seconds INTEGER NOT NULL DEFAULT 3600,
			rate_limit INTEGER NOT NULL DEFAULT 0,
			headers TEXT NOT NULL DEFAULT '{}',
			failure_count INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_retry_at DATETIME NOT NULL,
			http_status INTEGER,
			response_body TEXT,
			delivered_at DATETIME,
			failed_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			delivery_id TEXT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_active ON endpoints(active)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_endpoint ON deliveries(endpoint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(next_retry_at) WHERE delivered_at IS NULL AND failed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_delivery ON attempts(delivery_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Endpoints ---

const endpointColumns = `id, url, description, secret, events, max_attempts, initial_delay_seconds, backoff_multiplier,
	max_delay_seconds, rate_limit, headers, failure_count, active, created_at, updated_at`

func (s *SQLiteStorage) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	events, headers := encodeEndpointJSON(ep)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (`+endpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.URL, ep.Description, ep.Secret, events,
		ep.RetryPolicy.MaxAttempts, ep.RetryPolicy.InitialDelaySeconds, ep.RetryPolicy.BackoffMultiplier, ep.RetryPolicy.MaxDelaySeconds,
		ep.RateLimit, headers, ep.FailureCount, boolToInt(ep.Active), ep.CreatedAt.UTC(), ep.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStorage) scanEndpoint(row interface{ Scan(...interface{}) error }) (*models.Endpoint, error) {
	var ep models.Endpoint
	var events, headers string
	var active int
	err := row.Scan(&ep.ID, &ep.URL, &ep.Description, &ep.Secret, &events,
		&ep.RetryPolicy.MaxAttempts, &ep.RetryPolicy.InitialDelaySeconds, &ep.RetryPolicy.BackoffMultiplier, &ep.RetryPolicy.MaxDelaySeconds,
		&ep.RateLimit, &headers, &ep.FailureCount, &active, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeEndpointJSON(&ep, []byte(events), []byte(headers)); err != nil {
		return nil, err
	}
	ep.Active = active == 1
	return &ep, nil
}

func (s *SQLiteStorage) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = ?`, id)
	ep, err := s.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *SQLiteStorage) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	return s.queryEndpoints(ctx, `SELECT `+endpointColumns+` FROM endpoints ORDER BY created_at DESC`)
}

func (s *SQLiteStorage) ListActiveEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	return s.queryEndpoints(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE active = 1 ORDER BY created_at DESC`)
}

func (s *SQLiteStorage) queryEndpoints(ctx context.Context, query string, args ...interface{}) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStorage) UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	events, headers := encodeEndpointJSON(ep)
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET url = ?, description = ?, secret = ?, events = ?, max_attempts = ?, initial_delay_seconds = ?,
		 backoff_multiplier = ?, max_delay_seconds = ?, rate_limit = ?, headers = ?, active = ?, updated_at = ? WHERE id = ?`,
		ep.URL, ep.Description, ep.Secret, events, ep.RetryPolicy.MaxAttempts, ep.RetryPolicy.InitialDelaySeconds,
		ep.RetryPolicy.BackoffMultiplier, ep.RetryPolicy.MaxDelaySeconds, ep.RateLimit, headers, boolToInt(ep.Active),
		time.Now().UTC(), ep.ID,
	)
	return err
}

func (s *SQLiteStorage) ToggleEndpoint(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE endpoints SET active = ?, updated_at = ? WHERE id = ?`, boolToInt(active), time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ResetFailureCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE endpoints SET failure_count = 0, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) IncrementFailureCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE endpoints SET failure_count = failure_count + 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// --- Deliveries ---

const deliveryColumns = `id, endpoint_id, event_type, payload, attempts, next_retry_at, http_status, response_body,
	delivered_at, failed_at, created_at, updated_at`

const nonTerminal = `delivered_at IS NULL AND failed_at IS NULL`

func (s *SQLiteStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, endpoint_id, event_type, payload, attempts, next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EndpointID, d.EventType, string(d.Payload), d.Attempts, d.NextRetryAt.UTC(), d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStorage) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
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

func (s *SQLiteStorage) queryDeliveries(ctx context.Context, query string, args ...interface{}) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) ListDeliveriesByEndpoint(ctx context.Context, endpointID string, limit, offset int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryDeliveries(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE endpoint_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		endpointID, limit, offset)
}

func (s *SQLiteStorage) DueForExecution(ctx context.Context, now time.Time, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryDeliveries(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE `+nonTerminal+` AND next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`,
		now.UTC(), limit)
}

func (s *SQLiteStorage) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE `+nonTerminal+` AND next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}

	var claimed []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range claimed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE deliveries SET next_retry_at = ?, updated_at = ? WHERE id = ?`,
			leaseUntil.UTC(), now.UTC(), claimed[i].ID,
		); err != nil {
			return nil, err
		}
		claimed[i].NextRetryAt = leaseUntil.UTC()
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *SQLiteStorage) MarkDelivered(ctx context.Context, id string, observedAttempts int, status int, body string, at time.Time) (bool, error) {
	return s.transition(ctx,
		`UPDATE deliveries SET attempts = attempts + 1, http_status = ?, response_body = ?, delivered_at = ?, updated_at = ?
		 WHERE id = ? AND attempts = ? AND `+nonTerminal,
		status, body, at.UTC(), time.Now().UTC(), id, observedAttempts)
}

func (s *SQLiteStorage) RecordFailedAttempt(ctx context.Context, id string, observedAttempts int, status int, body string) (bool, error) {
	return s.transition(ctx,
		`UPDATE deliveries SET attempts = attempts + 1, http_status = ?, response_body = ?, updated_at = ?
		 WHERE id = ? AND attempts = ? AND `+nonTerminal,
		status, body, time.Now().UTC(), id, observedAttempts)
}

func (s *SQLiteStorage) ScheduleRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time) (bool, error) {
	return s.transition(ctx,
		`UPDATE deliveries SET next_retry_at = ?, updated_at = ? WHERE id = ? AND attempts = ? AND `+nonTerminal,
		nextRetryAt.UTC(), time.Now().UTC(), id, attempts)
}

func (s *SQLiteStorage) MarkFailed(ctx context.Context, id string, attempts int, at time.Time) (bool, error) {
	return s.transition(ctx,
		`UPDATE deliveries SET failed_at = ?, updated_at = ? WHERE id = ? AND attempts = ? AND `+nonTerminal,
		at.UTC(), time.Now().UTC(), id, attempts)
}

func (s *SQLiteStorage) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// --- Attempts ---

func (s *SQLiteStorage) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, delivery_id, attempt_number, status_code, response_body, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DeliveryID, a.AttemptNumber, a.StatusCode, a.ResponseBody, a.LatencyMs, a.Error, a.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStorage) GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, delivery_id, attempt_number, status_code, response_body, latency_ms, error, created_at
		 FROM attempts WHERE delivery_id = ? ORDER BY attempt_number`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.AttemptNumber, &a.StatusCode, &a.ResponseBody, &a.LatencyMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, failureCeiling int) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COUNT(delivered_at),
			COUNT(failed_at),
			COALESCE(SUM(CASE WHEN `+nonTerminal+` THEN 1 ELSE 0 END), 0)
		 FROM deliveries`,
	).Scan(&stats.TotalDeliveries, &stats.DeliveredCount, &stats.FailedCount, &stats.PendingCount)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(active), 0),
			COALESCE(SUM(CASE WHEN failure_count > ? THEN 1 ELSE 0 END), 0)
		 FROM endpoints`, failureCeiling,
	).Scan(&stats.TotalEndpoints, &stats.ActiveEndpoints, &stats.UnhealthyEndpoints)
	if err != nil {
		return nil, err
	}

	stats.computeRate()
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
