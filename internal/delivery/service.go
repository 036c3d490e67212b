package delivery

import (
	"github.com/rs/zerolog"

	"github.com/shohag/hookshot/internal/config"
	"github.com/shohag/hookshot/internal/queue"
	"github.com/shohag/hookshot/internal/storage"
)

// Service wires the delivery components over one store and queue.
type Service struct {
	Registry   *Registry
	Dispatcher *Dispatcher
	Scheduler  *Scheduler
	Executor   *Executor
	Pool       *Pool
}

func NewService(cfg config.DeliveryConfig, store storage.Storage, q queue.Queue, log zerolog.Logger) *Service {
	registry := NewRegistry(store, cfg.FailureCeiling)
	scheduler := NewScheduler(store, registry, q, log)
	executor := NewExecutor(store, registry, scheduler, NewSender(cfg.Timeout, cfg.ResponseLimit), NewThrottle(), log)

	return &Service{
		Registry:   registry,
		Dispatcher: NewDispatcher(registry, store, q, log),
		Scheduler:  scheduler,
		Executor:   executor,
		Pool:       NewPool(cfg, q, executor, log),
	}
}
