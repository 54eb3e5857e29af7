package reports

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/httputil"
	"github.com/pulsedeck/pulsedeck/pkg/tenants"
)

// Handlers provides HTTP handlers for report templates, runs and schedules
type Handlers struct {
	service *Service
}

// NewHandlers creates new report handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all report routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/reports/templates", h.CreateTemplate).Methods("POST")
	r.HandleFunc("/api/v1/reports/templates", h.ListTemplates).Methods("GET")
	r.HandleFunc("/api/v1/reports/templates/{id}", h.GetTemplate).Methods("GET")
	r.HandleFunc("/api/v1/reports/templates/{id}", h.UpdateTemplate).Methods("PUT")

	r.HandleFunc("/api/v1/reports/generate", h.Generate).Methods("POST")
	r.HandleFunc("/api/v1/reports/runs", h.RunHistory).Methods("GET")
	r.HandleFunc("/api/v1/reports/runs/{id}", h.RunStatus).Methods("GET")

	r.HandleFunc("/api/v1/reports/schedules", h.CreateSchedule).Methods("POST")
	r.HandleFunc("/api/v1/reports/schedules", h.ListSchedules).Methods("GET")
	r.HandleFunc("/api/v1/reports/schedules/{id}", h.DeleteSchedule).Methods("DELETE")
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return "", false
	}
	return tenant.ID, true
}

// CreateTemplate handles POST /api/v1/reports/templates
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req CreateTemplateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	template, err := h.service.CreateTemplate(r.Context(), tenantID, httputil.UserID(r), req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, template)
}

// ListTemplates handles GET /api/v1/reports/templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	includeInactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	templates, err := h.service.ListTemplates(r.Context(), tenantID, includeInactive)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, templates)
}

// GetTemplate handles GET /api/v1/reports/templates/{id}
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	template, err := h.service.GetTemplate(r.Context(), tenantID, id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, template)
}

// UpdateTemplate handles PUT /api/v1/reports/templates/{id}
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateTemplateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	template, err := h.service.UpdateTemplate(r.Context(), tenantID, id, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, template)
}

// Generate handles POST /api/v1/reports/generate
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req struct {
		TemplateID string           `json:"template_id"`
		Format     api.ReportFormat `json:"format,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TemplateID == "" {
		httputil.WriteBadRequest(w, "template_id is required")
		return
	}

	run, err := h.service.GenerateReport(r.Context(), tenantID, httputil.UserID(r), req.TemplateID, req.Format)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	// 202: the run is queued, not complete.
	httputil.WriteJSON(w, http.StatusAccepted, run)
}

// RunStatus handles GET /api/v1/reports/runs/{id}
func (h *Handlers) RunStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	run, err := h.service.GetRunStatus(r.Context(), tenantID, id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, run)
}

// RunHistory handles GET /api/v1/reports/runs
func (h *Handlers) RunHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	runs, err := h.service.GetRunHistory(r.Context(), tenantID,
		httputil.ParseQueryString(r, "template_id", ""), limit)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, runs)
}

// CreateSchedule handles POST /api/v1/reports/schedules
func (h *Handlers) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req CreateScheduleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	schedule, err := h.service.CreateSchedule(r.Context(), tenantID, httputil.UserID(r), req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, schedule)
}

// ListSchedules handles GET /api/v1/reports/schedules
func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	schedules, err := h.service.ListSchedules(r.Context(), tenantID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, schedules)
}

// DeleteSchedule handles DELETE /api/v1/reports/schedules/{id}
func (h *Handlers) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteSchedule(r.Context(), tenantID, id); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
