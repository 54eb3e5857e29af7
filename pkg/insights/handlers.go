package insights

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/httputil"
	"github.com/pulsedeck/pulsedeck/pkg/tenants"
)

// Handlers provides HTTP handlers for the insight engine
type Handlers struct {
	service *Service
}

// NewHandlers creates new insight handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all insight routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/insights/trend", h.Trend).Methods("POST")
	r.HandleFunc("/api/v1/insights/anomalies", h.Anomalies).Methods("POST")
	r.HandleFunc("/api/v1/insights/forecast", h.Forecast).Methods("POST")
	r.HandleFunc("/api/v1/insights", h.Insights).Methods("POST")
}

type seriesRequest struct {
	Series []api.TimePoint `json:"series"`
}

// Trend handles POST /api/v1/insights/trend
func (h *Handlers) Trend(w http.ResponseWriter, r *http.Request) {
	var req seriesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	httputil.WriteSuccess(w, h.service.AnalyzeTrend(req.Series))
}

// Anomalies handles POST /api/v1/insights/anomalies
func (h *Handlers) Anomalies(w http.ResponseWriter, r *http.Request) {
	var req seriesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	httputil.WriteSuccess(w, h.service.DetectAnomalies(req.Series))
}

// Forecast handles POST /api/v1/insights/forecast
func (h *Handlers) Forecast(w http.ResponseWriter, r *http.Request) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return
	}

	var req struct {
		MetricName string `json:"metric_name"`
		Periods    int    `json:"periods,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	forecast, err := h.service.ForecastMetric(r.Context(), tenant.ID, req.MetricName, req.Periods)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, forecast)
}

// Insights handles POST /api/v1/insights
func (h *Handlers) Insights(w http.ResponseWriter, r *http.Request) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return
	}

	var req struct {
		Data   map[string]interface{} `json:"data"`
		Prompt string                 `json:"prompt"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		httputil.WriteBadRequest(w, "prompt is required")
		return
	}

	prediction, err := h.service.GetInsights(r.Context(), tenant.ID, req.Data, req.Prompt)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, prediction)
}
