package tenants

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/contextkeys"
)

// TenantHeader is the header used to resolve the tenant when the route does
// not carry a tenant_id variable.
const TenantHeader = "X-Tenant-ID"

// ContextMiddleware resolves the tenant for a request and stores it in the
// request context. Resolution order: tenant_id route variable, then the
// X-Tenant-ID header. Inactive tenants are rejected.
func ContextMiddleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := ""
			vars := mux.Vars(r)
			if id, ok := vars["tenant_id"]; ok {
				tenantID = id
			} else if id := r.Header.Get(TenantHeader); id != "" {
				tenantID = id
			}

			if tenantID == "" {
				// No tenant scope required for this route
				next.ServeHTTP(w, r)
				return
			}

			tenant, err := service.Get(r.Context(), tenantID)
			if err != nil {
				if api.IsNotFound(err) {
					http.Error(w, "Tenant not found", http.StatusNotFound)
					return
				}
				http.Error(w, "Failed to resolve tenant", http.StatusInternalServerError)
				return
			}
			if !tenant.IsActive {
				http.Error(w, "Tenant is deactivated", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.TenantKey, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the tenant stored in the context, or nil
func FromContext(ctx context.Context) *api.Tenant {
	tenant, _ := ctx.Value(contextkeys.TenantKey).(*api.Tenant)
	return tenant
}
