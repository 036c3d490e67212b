package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shohag/hookshot/internal/config"
	"github.com/shohag/hookshot/internal/delivery"
	"github.com/shohag/hookshot/internal/models"
	"github.com/shohag/hookshot/internal/storage"
)

type Server struct {
	cfg           config.ServerConfig
	store         storage.Storage
	dispatcher    *delivery.Dispatcher
	ceiling       int
	defaultPolicy models.RetryPolicy
	router        *chi.Mux
	log           zerolog.Logger
	http          *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, svc *delivery.Service, defaultPolicy models.RetryPolicy, log zerolog.Logger) *Server {
	s := &Server{
		cfg:           cfg,
		store:         store,
		dispatcher:    svc.Dispatcher,
		ceiling:       svc.Registry.Ceiling(),
		defaultPolicy: defaultPolicy,
		log:           log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	epHandler := NewEndpointHandler(s.store, s.defaultPolicy)
	evtHandler := NewEventHandler(s.dispatcher, s.log)
	dlvHandler := NewDeliveryHandler(s.store)
	statsHandler := NewStatsHandler(s.store, s.ceiling, s.log)

	r.Get("/health", statsHandler.Health)
	r.Get("/metrics", statsHandler.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		// Events
		r.Post("/events", evtHandler.Publish)

		// Endpoints
		r.Post("/endpoints", epHandler.Create)
		r.Get("/endpoints", epHandler.List)
		r.Get("/endpoints/{id}", epHandler.Get)
		r.Put("/endpoints/{id}", epHandler.Update)
		r.Delete("/endpoints/{id}", epHandler.Delete)
		r.Patch("/endpoints/{id}/toggle", epHandler.Toggle)
		r.Get("/endpoints/{id}/deliveries", epHandler.ListDeliveries)

		// Deliveries
		r.Get("/deliveries/{id}", dlvHandler.Get)
		r.Get("/deliveries/{id}/attempts", dlvHandler.ListAttempts)

		// Stats
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
