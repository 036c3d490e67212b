// Package queue provides the deferred-task facility that hands delivery ids to
// the worker pool once they are due.
//
// Both implementations give at-least-once semantics: Due leases ids instead of
// removing them, so a crash between handing out an id and finishing the
// attempt makes the same id come back once the lease expires. The executor
// tolerates that.
package queue

import (
	"context"
	"time"
)

// Queue accepts delivery ids with an earliest execution time and returns ids
// whose time has come.
type Queue interface {
	// Enqueue schedules deliveryID to run no earlier than notBefore.
	Enqueue(ctx context.Context, deliveryID string, notBefore time.Time) error
	// Due claims up to limit ids that are ready at now. Claimed ids come back
	// after the lease unless they are acked or re-enqueued.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	// Ack forgets a delivery that needs no further attempts.
	Ack(ctx context.Context, deliveryID string) error
}
