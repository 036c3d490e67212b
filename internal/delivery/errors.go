package delivery

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyEventType   = errors.New("delivery: event type is required")
	ErrInvalidEventType = errors.New("delivery: event type has leading or trailing whitespace")
	ErrNullPayload      = errors.New("delivery: payload must not be null")
	ErrInvalidPayload   = errors.New("delivery: payload is not valid JSON")
	ErrDeliveryNotFound = errors.New("delivery: delivery not found")
	ErrEndpointNotFound = errors.New("delivery: endpoint not found")
	ErrPermanentFailure = errors.New("delivery: retry attempts exhausted")
)

// ConfigurationError reports an endpoint that cannot be delivered to as
// configured: missing URL or secret, or an invalid retry policy.
type ConfigurationError struct {
	EndpointID string
	Err        error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("endpoint %s misconfigured: %v", e.EndpointID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError is a failure below HTTP: timeout, DNS, refused connection, TLS.
// It is retried exactly like a non-2xx response.
type TransportError struct {
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport timeout: %v", e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
