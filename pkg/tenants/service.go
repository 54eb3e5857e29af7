// Package tenants manages the tenant registry and tenant resolution for
// incoming requests. The tenant is the isolation boundary: every other
// package filters its queries by the tenant resolved here.
package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

// Service manages tenants in PostgreSQL
type Service struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewService creates a new tenant service
func NewService(db *sql.DB, logger *observability.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CreateTenantRequest is the input for creating a tenant
type CreateTenantRequest struct {
	Name      string               `json:"name"`
	Subdomain string               `json:"subdomain"`
	Tier      api.SubscriptionTier `json:"tier,omitempty"`
}

// UpdateTenantRequest is the input for updating a tenant
type UpdateTenantRequest struct {
	Name      *string               `json:"name,omitempty"`
	Subdomain *string               `json:"subdomain,omitempty"`
	Tier      *api.SubscriptionTier `json:"tier,omitempty"`
	IsActive  *bool                 `json:"is_active,omitempty"`
}

// Create creates a new tenant. The subdomain must be unique.
func (s *Service) Create(ctx context.Context, req CreateTenantRequest) (*api.Tenant, error) {
	if req.Subdomain == "" {
		return nil, api.NewValidationError("subdomain", "must not be empty")
	}

	existing, err := s.GetBySubdomain(ctx, req.Subdomain)
	if err != nil && !api.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return nil, api.NewConflictError("tenant", "subdomain")
	}

	tier := req.Tier
	if tier == "" {
		tier = api.TierFree
	}

	tenant := &api.Tenant{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Subdomain: req.Subdomain,
		Tier:      tier,
		IsActive:  true,
		Limits:    DefaultLimits(tier),
	}

	limitsJSON, err := json.Marshal(tenant.Limits)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal limits: %w", err)
	}

	query := `
		INSERT INTO tenants (id, name, subdomain, tier, is_active, limits)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Subdomain, tenant.Tier, tenant.IsActive, limitsJSON,
	).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.logger.WithTenant(tenant.ID).WithField("subdomain", tenant.Subdomain).Info("tenant created")
	return tenant, nil
}

// Get retrieves a tenant by ID
func (s *Service) Get(ctx context.Context, id string) (*api.Tenant, error) {
	return s.getOne(ctx, "id = $1", id)
}

// GetBySubdomain retrieves a tenant by subdomain
func (s *Service) GetBySubdomain(ctx context.Context, subdomain string) (*api.Tenant, error) {
	return s.getOne(ctx, "subdomain = $1", subdomain)
}

func (s *Service) getOne(ctx context.Context, where string, arg interface{}) (*api.Tenant, error) {
	query := `
		SELECT id, name, subdomain, tier, is_active, limits, created_at, updated_at
		FROM tenants
		WHERE ` + where

	tenant := &api.Tenant{}
	var limitsJSON []byte
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&tenant.ID, &tenant.Name, &tenant.Subdomain, &tenant.Tier,
		&tenant.IsActive, &limitsJSON, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("tenant", fmt.Sprintf("%v", arg))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if len(limitsJSON) > 0 {
		if err := json.Unmarshal(limitsJSON, &tenant.Limits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
		}
	}
	return tenant, nil
}

// List returns all tenants ordered by creation time, newest first
func (s *Service) List(ctx context.Context) ([]*api.Tenant, error) {
	query := `
		SELECT id, name, subdomain, tier, is_active, limits, created_at, updated_at
		FROM tenants
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*api.Tenant
	for rows.Next() {
		tenant := &api.Tenant{}
		var limitsJSON []byte
		if err := rows.Scan(
			&tenant.ID, &tenant.Name, &tenant.Subdomain, &tenant.Tier,
			&tenant.IsActive, &limitsJSON, &tenant.CreatedAt, &tenant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if len(limitsJSON) > 0 {
			if err := json.Unmarshal(limitsJSON, &tenant.Limits); err != nil {
				return nil, fmt.Errorf("failed to unmarshal limits: %w", err)
			}
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// Update updates a tenant. Changing the subdomain re-checks uniqueness;
// changing the tier resets limits to the tier defaults.
func (s *Service) Update(ctx context.Context, id string, req UpdateTenantRequest) (*api.Tenant, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Subdomain != nil && *req.Subdomain != tenant.Subdomain {
		existing, err := s.GetBySubdomain(ctx, *req.Subdomain)
		if err != nil && !api.IsNotFound(err) {
			return nil, err
		}
		if existing != nil {
			return nil, api.NewConflictError("tenant", "subdomain")
		}
		tenant.Subdomain = *req.Subdomain
	}
	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Tier != nil && *req.Tier != tenant.Tier {
		tenant.Tier = *req.Tier
		tenant.Limits = DefaultLimits(*req.Tier)
	}
	if req.IsActive != nil {
		tenant.IsActive = *req.IsActive
	}

	limitsJSON, err := json.Marshal(tenant.Limits)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal limits: %w", err)
	}

	query := `
		UPDATE tenants
		SET name = $2, subdomain = $3, tier = $4, is_active = $5, limits = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Subdomain, tenant.Tier, tenant.IsActive, limitsJSON,
	).Scan(&tenant.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return tenant, nil
}

// Delete removes a tenant
func (s *Service) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return api.NewNotFoundError("tenant", id)
	}

	s.logger.WithTenant(id).Info("tenant deleted")
	return nil
}

// DefaultLimits returns the resource limits for a subscription tier
func DefaultLimits(tier api.SubscriptionTier) api.TenantLimits {
	switch tier {
	case api.TierStarter:
		return api.TenantLimits{
			MaxUsers:           20,
			MaxDashboards:      25,
			MaxEventsPerMonth:  1_000_000,
			MaxReportsPerMonth: 100,
			DataRetentionDays:  90,
		}
	case api.TierPro:
		return api.TenantLimits{
			MaxUsers:           100,
			MaxDashboards:      100,
			MaxEventsPerMonth:  10_000_000,
			MaxReportsPerMonth: 1000,
			DataRetentionDays:  365,
		}
	case api.TierEnterprise:
		return api.TenantLimits{
			MaxUsers:           1000,
			MaxDashboards:      500,
			MaxEventsPerMonth:  100_000_000,
			MaxReportsPerMonth: 10000,
			DataRetentionDays:  730,
		}
	default:
		return api.TenantLimits{
			MaxUsers:           5,
			MaxDashboards:      5,
			MaxEventsPerMonth:  100_000,
			MaxReportsPerMonth: 10,
			DataRetentionDays:  30,
		}
	}
}
