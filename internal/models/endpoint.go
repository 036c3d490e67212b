package models

import "time"

// RetryPolicy bounds how often and how far apart a failed delivery is retried.
type RetryPolicy struct {
	MaxAttempts         int     `json:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	InitialDelaySeconds int     `json:"initial_delay_seconds" mapstructure:"initial_delay_seconds" validate:"gte=0"`
	BackoffMultiplier   float64 `json:"backoff_multiplier" mapstructure:"backoff_multiplier" validate:"gte=1"`
	MaxDelaySeconds     int     `json:"max_delay_seconds" mapstructure:"max_delay_seconds" validate:"gte=0"`
}

// Endpoint is a registered webhook destination.
type Endpoint struct {
	ID           string            `json:"id"`
	URL          string            `json:"url" validate:"required,http_url"`
	Description  string            `json:"description"`
	Secret       string            `json:"secret,omitempty" validate:"required,notblank"`
	Events       EventFilter       `json:"events"`
	RetryPolicy  RetryPolicy       `json:"retry_policy"`
	RateLimit    int               `json:"rate_limit,omitempty" validate:"gte=0"`
	Headers      map[string]string `json:"headers,omitempty"`
	FailureCount int               `json:"failure_count"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Healthy reports whether the endpoint's consecutive permanent failures are
// still within ceiling. Unhealthy endpoints are skipped at dispatch but stay active.
func (e *Endpoint) Healthy(ceiling int) bool {
	return e.FailureCount <= ceiling
}
