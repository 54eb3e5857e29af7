package analytics

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/httputil"
	"github.com/pulsedeck/pulsedeck/pkg/tenants"
)

// Handlers provides HTTP handlers for event tracking and analytics reads
type Handlers struct {
	service *Service
}

// NewHandlers creates new analytics handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all analytics routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/analytics/track", h.Track).Methods("POST")
	r.HandleFunc("/api/v1/analytics/track/batch", h.TrackBatch).Methods("POST")
	r.HandleFunc("/api/v1/analytics/events", h.QueryEvents).Methods("GET")
	r.HandleFunc("/api/v1/analytics/overview", h.Overview).Methods("GET")
	r.HandleFunc("/api/v1/analytics/metrics", h.Metrics).Methods("GET")
}

// Track handles POST /api/v1/analytics/track
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return
	}

	var req TrackEventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event, err := h.service.TrackEvent(r.Context(), tenant.ID, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, event)
}

// TrackBatch handles POST /api/v1/analytics/track/batch
func (h *Handlers) TrackBatch(w http.ResponseWriter, r *http.Request) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return
	}

	var req struct {
		Events []TrackEventRequest `json:"events"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		httputil.WriteBadRequest(w, "events must not be empty")
		return
	}

	inserted, err := h.service.TrackBatch(r.Context(), tenant.ID, req.Events)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]int{"inserted": inserted})
}

// QueryEvents handles GET /api/v1/analytics/events
func (h *Handlers) QueryEvents(w http.ResponseWriter, r *http.Request) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	startDate, err := httputil.ParseQueryTime(r, "start_date")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	endDate, err := httputil.ParseQueryTime(r, "end_date")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := QueryFilter{
		EventType: httputil.ParseQueryString(r, "event_type", ""),
		EventName: httputil.ParseQueryString(r, "event_name", ""),
		UserID:    httputil.ParseQueryString(r, "user_id", ""),
		SessionID: httputil.ParseQueryString(r, "session_id", ""),
		StartDate: startDate,
		EndDate:   endDate,
		Limit:     limit,
		Offset:    offset,
	}

	result, err := h.service.QueryEvents(r.Context(), tenant.ID, filter)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// Overview handles GET /api/v1/analytics/overview
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return
	}

	days, err := httputil.ParseQueryInt(r, "days", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	overview, err := h.service.GetDashboardOverview(r.Context(), tenant.ID, days)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, overview)
}

// Metrics handles GET /api/v1/analytics/metrics
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return
	}

	startDate, err := httputil.ParseQueryTime(r, "start_date")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	endDate, err := httputil.ParseQueryTime(r, "end_date")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	query := MetricsQuery{
		MetricNames: r.URL.Query()["name"],
		Granularity: api.Granularity(httputil.ParseQueryString(r, "granularity", "")),
	}
	if startDate != nil {
		query.StartDate = *startDate
	}
	if endDate != nil {
		query.EndDate = *endDate
	}

	metrics, err := h.service.GetMetrics(r.Context(), tenant.ID, query)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, metrics)
}
