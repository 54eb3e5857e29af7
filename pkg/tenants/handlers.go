package tenants

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsedeck/pulsedeck/pkg/httputil"
)

// Handlers provides the administrative tenant API. These routes sit
// outside the tenant context middleware.
type Handlers struct {
	service *Service
}

// NewHandlers creates new tenant handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all tenant routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/tenants", h.Create).Methods("POST")
	r.HandleFunc("/api/v1/tenants", h.List).Methods("GET")
	r.HandleFunc("/api/v1/tenants/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/v1/tenants/{id}", h.Update).Methods("PUT")
	r.HandleFunc("/api/v1/tenants/{id}", h.Delete).Methods("DELETE")
}

// Create handles POST /api/v1/tenants
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteCreated(w, tenant)
}

// List handles GET /api/v1/tenants
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenants)
}

// Get handles GET /api/v1/tenants/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	tenant, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// Update handles PUT /api/v1/tenants/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// Delete handles DELETE /api/v1/tenants/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathVarOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.WriteAPIError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
