package models

import (
	"encoding/json"
	"time"
)

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Delivery is one event payload bound for one endpoint. DeliveredAt and
// FailedAt are mutually exclusive and each is written at most once.
type Delivery struct {
	ID           string          `json:"id"`
	EndpointID   string          `json:"endpoint_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	NextRetryAt  time.Time       `json:"next_retry_at"`
	HTTPStatus   *int            `json:"http_status,omitempty"`
	ResponseBody *string         `json:"response_body,omitempty"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (d *Delivery) IsTerminal() bool {
	return d.DeliveredAt != nil || d.FailedAt != nil
}

func (d *Delivery) State() DeliveryState {
	switch {
	case d.DeliveredAt != nil:
		return DeliveryDelivered
	case d.FailedAt != nil:
		return DeliveryFailed
	default:
		return DeliveryPending
	}
}

// MarshalJSON adds the derived state so operators don't have to infer it.
func (d Delivery) MarshalJSON() ([]byte, error) {
	type plain Delivery
	return json.Marshal(struct {
		plain
		State DeliveryState `json:"state"`
	}{plain(d), d.State()})
}

// Attempt is the history row written for every executed delivery attempt.
type Attempt struct {
	ID            string    `json:"id"`
	DeliveryID    string    `json:"delivery_id"`
	AttemptNumber int       `json:"attempt_number"`
	StatusCode    int       `json:"status_code"`
	ResponseBody  string    `json:"response_body"`
	LatencyMs     int64     `json:"latency_ms"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
