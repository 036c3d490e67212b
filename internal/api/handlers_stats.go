package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shohag/hookshot/internal/delivery"
	"github.com/shohag/hookshot/internal/storage"
)

type StatsHandler struct {
	store          storage.Storage
	failureCeiling int
	log            zerolog.Logger
	metrics        http.Handler
}

func NewStatsHandler(store storage.Storage, failureCeiling int, log zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		store:          store,
		failureCeiling: failureCeiling,
		log:            log,
		metrics:        promhttp.Handler(),
	}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "hookshot",
	})
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context(), h.failureCeiling)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	delivery.RecordStats(stats)
	writeJSON(w, http.StatusOK, stats)
}

// Metrics refreshes the state gauges from the store before each scrape.
func (h *StatsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context(), h.failureCeiling)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to refresh delivery gauges")
	} else {
		delivery.RecordStats(stats)
	}
	h.metrics.ServeHTTP(w, r)
}
