package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookshot/internal/config"
	"github.com/shohag/hookshot/internal/models"
	"github.com/shohag/hookshot/internal/queue"
	"github.com/shohag/hookshot/internal/storage"
)

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store storage.Storage
	svc   *Service
}

func testDeliveryConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		Workers:        4,
		Timeout:        5 * time.Second,
		PollInterval:   20 * time.Millisecond,
		FailureCeiling: 10,
		ResponseLimit:  1024,
	}
}

func newSQLiteStore(t *testing.T) storage.Storage {
	t.Helper()

	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "hookshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// newHarness builds the delivery service over a fresh SQLite store with every
// component reading the same fixed clock.
func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newSQLiteStore(t)
	svc := NewService(testDeliveryConfig(), store, queue.NewStoreQueue(store, time.Minute), zerolog.Nop())

	clock := func() time.Time { return testClock }
	svc.Dispatcher.now = clock
	svc.Scheduler.now = clock
	svc.Executor.now = clock

	return &harness{store: store, svc: svc}
}

func (h *harness) addEndpoint(t *testing.T, url string, events models.EventFilter, mutate ...func(*models.Endpoint)) *models.Endpoint {
	t.Helper()

	ep := &models.Endpoint{
		ID:     models.NewID("ep"),
		URL:    url,
		Secret: models.NewSecret(),
		Events: events,
		RetryPolicy: models.RetryPolicy{
			MaxAttempts:         5,
			InitialDelaySeconds: 60,
			BackoffMultiplier:   2,
			MaxDelaySeconds:     3600,
		},
		Active:    true,
		CreatedAt: testClock,
		UpdatedAt: testClock,
	}
	for _, m := range mutate {
		m(ep)
	}
	require.NoError(t, h.store.CreateEndpoint(context.Background(), ep))
	return ep
}

func (h *harness) dispatchOne(t *testing.T, eventType, payload string) models.Delivery {
	t.Helper()

	created, err := h.svc.Dispatcher.Dispatch(context.Background(), eventType, []byte(payload))
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

func (h *harness) reload(t *testing.T, id string) *models.Delivery {
	t.Helper()

	d, err := h.store.GetDelivery(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

type capturedRequest struct {
	Header http.Header
	Body   []byte
}

// receiver is a webhook consumer that answers every call with a fixed status
// and remembers what it was sent.
type receiver struct {
	*httptest.Server

	mu       sync.Mutex
	status   atomic.Int32
	requests []capturedRequest
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()

	r := &receiver{}
	r.status.Store(int32(status))
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, capturedRequest{Header: req.Header.Clone(), Body: body})
		r.mu.Unlock()
		w.WriteHeader(int(r.status.Load()))
		_, _ = w.Write([]byte("ack"))
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *receiver) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *receiver) last() capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}
