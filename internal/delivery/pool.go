package delivery

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/shohag/hookshot/internal/config"
	"github.com/shohag/hookshot/internal/queue"
)

// Pool polls the queue for due deliveries and runs them on a bounded set of
// goroutines.
type Pool struct {
	queue    queue.Queue
	executor *Executor
	workers  int
	pollRate time.Duration
	log      zerolog.Logger
	tasks    *pool.Pool
	running  atomic.Int64
	stop     chan struct{}
	done     chan struct{}
	now      func() time.Time
}

func NewPool(cfg config.DeliveryConfig, q queue.Queue, executor *Executor, log zerolog.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pollRate := cfg.PollInterval
	if pollRate <= 0 {
		pollRate = time.Second
	}

	return &Pool{
		queue:    q,
		executor: executor,
		workers:  workers,
		pollRate: pollRate,
		log:      log,
		tasks:    pool.New().WithMaxGoroutines(workers),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      utcNow,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Dur("poll_interval", p.pollRate).Msg("starting delivery worker pool")

	go func() {
		defer close(p.done)
		p.pollLoop(ctx)
	}()
}

// Stop ends polling and waits for in-flight deliveries to finish.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping delivery worker pool")
	close(p.stop)
	<-p.done
	p.tasks.Wait()
	p.log.Info().Msg("delivery worker pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll claims as many due deliveries as there are idle workers and starts them.
func (p *Pool) poll(ctx context.Context) int {
	free := p.workers - int(p.running.Load())
	if free <= 0 {
		return 0
	}

	ids, err := p.queue.Due(ctx, p.now(), free)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch due deliveries")
		return 0
	}

	for _, id := range ids {
		p.running.Add(1)
		inflight.Inc()
		p.tasks.Go(func() {
			defer func() {
				p.running.Add(-1)
				inflight.Dec()
			}()
			p.run(ctx, id)
		})
	}
	return len(ids)
}

// run executes one claimed delivery. Finished deliveries are acked; anything
// else keeps its claim and comes back when the lease runs out, unless the
// scheduler already re-enqueued it.
func (p *Pool) run(ctx context.Context, id string) {
	outcome, err := p.executor.Execute(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			p.ack(id)
		}
		p.log.Error().Err(err).Str("delivery_id", id).Msg("delivery execution failed")
		return
	}
	p.log.Debug().Str("delivery_id", id).Str("outcome", string(outcome)).Msg("delivery executed")

	switch outcome {
	case OutcomeDelivered, OutcomeFailed, OutcomeDuplicate:
		p.ack(id)
	}
}

func (p *Pool) ack(id string) {
	if err := p.queue.Ack(context.Background(), id); err != nil {
		p.log.Error().Err(err).Str("delivery_id", id).Msg("failed to ack delivery")
	}
}
