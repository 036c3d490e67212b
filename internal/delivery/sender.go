package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEventType  = "X-Event-Type"
	HeaderDeliveryID = "X-Delivery-ID"
	HeaderTimestamp  = "X-Timestamp"
)

// Request is one outbound delivery call.
type Request struct {
	URL        string
	DeliveryID string
	EventType  string
	Signature  string
	Timestamp  time.Time
	Headers    map[string]string
	Body       []byte
}

type SendResult struct {
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Err          error
}

func (r *SendResult) Success() bool {
	return r.Err == nil && IsSuccess(r.StatusCode)
}

type Sender struct {
	client        *http.Client
	responseLimit int64
}

func NewSender(timeout time.Duration, responseLimit int64) *Sender {
	if responseLimit <= 0 {
		responseLimit = 1024
	}
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
			// Redirects are reported as the 3xx they are, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		responseLimit: responseLimit,
	}
}

func (s *Sender) Send(ctx context.Context, r Request) *SendResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return &SendResult{
			Err:       fmt.Errorf("failed to create request: %w", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hookshot/1.0")
	req.Header.Set(HeaderSignature, r.Signature)
	req.Header.Set(HeaderEventType, r.EventType)
	req.Header.Set(HeaderDeliveryID, r.DeliveryID)
	req.Header.Set(HeaderTimestamp, r.Timestamp.UTC().Format(time.RFC3339))

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Err:       classifyTransportError(err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, s.responseLimit))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}

func classifyTransportError(err error) *TransportError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &TransportError{Err: err, Timeout: timeout}
}
