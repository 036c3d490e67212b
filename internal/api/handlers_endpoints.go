package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/hookshot/internal/models"
	"github.com/shohag/hookshot/internal/storage"
)

type EndpointHandler struct {
	store         storage.Storage
	defaultPolicy models.RetryPolicy
}

func NewEndpointHandler(store storage.Storage, defaultPolicy models.RetryPolicy) *EndpointHandler {
	return &EndpointHandler{store: store, defaultPolicy: defaultPolicy}
}

type endpointRequest struct {
	URL         string              `json:"url"`
	Description string              `json:"description"`
	Secret      string              `json:"secret"`
	Events      models.EventFilter  `json:"events"`
	RetryPolicy *models.RetryPolicy `json:"retry_policy"`
	RateLimit   int                 `json:"rate_limit"`
	Headers     map[string]string   `json:"headers"`
}

// Create registers an endpoint. A secret is generated when none is given and
// is only ever returned here.
func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	ep := &models.Endpoint{
		ID:          models.NewID("ep"),
		URL:         req.URL,
		Description: req.Description,
		Secret:      req.Secret,
		Events:      req.Events,
		RetryPolicy: h.defaultPolicy,
		RateLimit:   req.RateLimit,
		Headers:     req.Headers,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ep.Secret == "" {
		ep.Secret = models.NewSecret()
	}
	if req.RetryPolicy != nil {
		ep.RetryPolicy = *req.RetryPolicy
	}
	if ep.Events == nil {
		ep.Events = models.EventFilter{}
	}
	if err := ep.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.store.CreateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create endpoint")
		return
	}

	writeJSON(w, http.StatusCreated, ep)
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.load(w, r)
	if !ok {
		return
	}
	ep.Secret = "" // don't expose
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	eps, err := h.store.ListEndpoints(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}
	for i := range eps {
		eps[i].Secret = "" // don't expose
	}
	if eps == nil {
		eps = []models.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

// Update replaces the endpoint's configuration. Omitted fields keep their
// current values; failure count and active flag are not touched.
func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.load(w, r)
	if !ok {
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != "" {
		ep.URL = req.URL
	}
	if req.Secret != "" {
		ep.Secret = req.Secret
	}
	ep.Description = req.Description
	if req.Events != nil {
		ep.Events = req.Events
	}
	if req.RetryPolicy != nil {
		ep.RetryPolicy = *req.RetryPolicy
	}
	ep.RateLimit = req.RateLimit
	if req.Headers != nil {
		ep.Headers = req.Headers
	}
	ep.UpdatedAt = time.Now().UTC()

	if err := ep.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.store.UpdateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update endpoint")
		return
	}

	ep.Secret = ""
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.load(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteEndpoint(r.Context(), ep.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete endpoint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Toggle flips the active flag. Inactive endpoints receive no new deliveries;
// ones already pending still run.
func (h *EndpointHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.load(w, r)
	if !ok {
		return
	}

	newActive := !ep.Active
	if err := h.store.ToggleEndpoint(r.Context(), ep.ID, newActive); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle endpoint")
		return
	}

	ep.Active = newActive
	ep.Secret = ""
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.load(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	deliveries, err := h.store.ListDeliveriesByEndpoint(r.Context(), ep.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

func (h *EndpointHandler) load(w http.ResponseWriter, r *http.Request) (*models.Endpoint, bool) {
	ep, err := h.store.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return nil, false
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return nil, false
	}
	return ep, true
}
