package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shohag/hookshot/internal/delivery"
	"github.com/shohag/hookshot/internal/models"
)

const maxPayloadSize = 256 * 1024 // 256KB

type EventHandler struct {
	dispatcher *delivery.Dispatcher
	log        zerolog.Logger
}

func NewEventHandler(dispatcher *delivery.Dispatcher, log zerolog.Logger) *EventHandler {
	return &EventHandler{dispatcher: dispatcher, log: log}
}

type publishEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type publishEventResponse struct {
	EventType  string            `json:"event_type"`
	Deliveries []models.Delivery `json:"deliveries"`
}

// Publish fans the event out and answers once the deliveries are recorded;
// the HTTP calls to endpoints happen later on the worker pool.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.dispatcher.Dispatch(r.Context(), req.EventType, req.Payload)
	switch {
	case errors.Is(err, delivery.ErrEmptyEventType):
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	case errors.Is(err, delivery.ErrInvalidEventType):
		writeError(w, http.StatusBadRequest, "event_type must not have leading or trailing whitespace")
		return
	case errors.Is(err, delivery.ErrNullPayload):
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	case errors.Is(err, delivery.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "payload must be valid JSON")
		return
	case err != nil && len(created) == 0:
		writeError(w, http.StatusInternalServerError, "failed to dispatch event")
		return
	case err != nil:
		// Some deliveries exist and will be attempted; report what was created.
		h.log.Error().Err(err).Str("event_type", req.EventType).Msg("event partially dispatched")
	}

	if created == nil {
		created = []models.Delivery{}
	}
	writeJSON(w, http.StatusAccepted, publishEventResponse{EventType: req.EventType, Deliveries: created})
}
