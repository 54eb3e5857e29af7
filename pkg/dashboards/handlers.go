package dashboards

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsedeck/pulsedeck/pkg/httputil"
	"github.com/pulsedeck/pulsedeck/pkg/tenants"
)

// Handlers provides HTTP handlers for dashboards and widgets
type Handlers struct {
	service *Service
}

// NewHandlers creates new dashboard handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all dashboard routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/dashboards", h.Create).Methods("POST")
	r.HandleFunc("/api/v1/dashboards", h.List).Methods("GET")
	r.HandleFunc("/api/v1/dashboards/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/v1/dashboards/{id}", h.Update).Methods("PUT")
	r.HandleFunc("/api/v1/dashboards/{id}", h.Delete).Methods("DELETE")

	r.HandleFunc("/api/v1/dashboards/{id}/widgets", h.AddWidget).Methods("POST")
	r.HandleFunc("/api/v1/dashboards/{id}/widgets/{widgetId}", h.UpdateWidget).Methods("PUT")
	r.HandleFunc("/api/v1/dashboards/{id}/widgets/{widgetId}", h.RemoveWidget).Methods("DELETE")
}

// identity pulls the tenant and acting user off the request, writing
// the error response itself when either is missing.
func identity(w http.ResponseWriter, r *http.Request) (tenantID, userID string, ok bool) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		httputil.WriteBadRequest(w, "tenant is required")
		return "", "", false
	}
	userID = httputil.UserID(r)
	if userID == "" {
		httputil.WriteBadRequest(w, "user is required")
		return "", "", false
	}
	return tenant.ID, userID, true
}

// Create handles POST /api/v1/dashboards
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}

	var req CreateDashboardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	dashboard, err := h.service.Create(r.Context(), tenantID, userID, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, dashboard)
}

// List handles GET /api/v1/dashboards
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}

	dashboards, err := h.service.List(r.Context(), tenantID, userID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, dashboards)
}

// Get handles GET /api/v1/dashboards/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	dashboard, err := h.service.Get(r.Context(), id, tenantID, userID)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, dashboard)
}

// Update handles PUT /api/v1/dashboards/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateDashboardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	dashboard, err := h.service.Update(r.Context(), id, tenantID, userID, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, dashboard)
}

// Delete handles DELETE /api/v1/dashboards/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id, tenantID, userID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AddWidget handles POST /api/v1/dashboards/{id}/widgets
func (h *Handlers) AddWidget(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	var req WidgetRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	widget, err := h.service.AddWidget(r.Context(), id, tenantID, userID, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, widget)
}

// UpdateWidget handles PUT /api/v1/dashboards/{id}/widgets/{widgetId}
func (h *Handlers) UpdateWidget(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}
	widgetID, ok := httputil.PathVarOrError(w, r, "widgetId")
	if !ok {
		return
	}

	var req WidgetRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	widget, err := h.service.UpdateWidget(r.Context(), widgetID, id, tenantID, userID, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, widget)
}

// RemoveWidget handles DELETE /api/v1/dashboards/{id}/widgets/{widgetId}
func (h *Handlers) RemoveWidget(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}
	widgetID, ok := httputil.PathVarOrError(w, r, "widgetId")
	if !ok {
		return
	}

	if err := h.service.RemoveWidget(r.Context(), widgetID, id, tenantID, userID); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
