// Package contextkeys provides centralized context key definitions.
// All context keys used across the application are defined here to
// prevent typos and make key usage discoverable.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantKey contains *api.Tenant
	// Set by: tenants.ContextMiddleware (pkg/tenants/middleware.go)
	// Required by: every tenant-scoped endpoint
	TenantKey Key = "tenant"

	// UserIDKey contains the authenticated user ID string
	// Set by: the auth layer in front of this service
	UserIDKey Key = "user_id"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: HTTP middleware; used by logger and handlers
	RequestIDKey Key = "request_id"
)
