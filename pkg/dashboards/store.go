// Package dashboards manages tenant dashboards and their widgets.
// Dashboards are private to their creator unless shared with the
// tenant; widgets always travel with their dashboard.
package dashboards

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pulsedeck/pulsedeck/pkg/api"
)

// Store persists dashboards and widgets
type Store struct {
	db *sql.DB
}

// NewStore creates a new dashboard store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectDashboard = `
	SELECT id, tenant_id, name, description, created_by, is_shared, created_at, updated_at
	FROM dashboards
`

// Create inserts a dashboard
func (s *Store) Create(ctx context.Context, dashboard *api.Dashboard) error {
	query := `
		INSERT INTO dashboards (id, tenant_id, name, description, created_by, is_shared)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		dashboard.ID, dashboard.TenantID, dashboard.Name, dashboard.Description,
		dashboard.CreatedBy, dashboard.IsShared,
	).Scan(&dashboard.CreatedAt, &dashboard.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dashboard: %w", err)
	}
	return nil
}

// Get returns a tenant's dashboard without its widgets
func (s *Store) Get(ctx context.Context, id, tenantID string) (*api.Dashboard, error) {
	dashboard := &api.Dashboard{}
	err := s.db.QueryRowContext(ctx, selectDashboard+`WHERE id = $1 AND tenant_id = $2`, id, tenantID).Scan(
		&dashboard.ID, &dashboard.TenantID, &dashboard.Name, &dashboard.Description,
		&dashboard.CreatedBy, &dashboard.IsShared, &dashboard.CreatedAt, &dashboard.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("dashboard", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard: %w", err)
	}
	return dashboard, nil
}

// ListVisible returns dashboards the user can see: their own plus any
// shared with the tenant, newest first.
func (s *Store) ListVisible(ctx context.Context, tenantID, userID string) ([]*api.Dashboard, error) {
	query := selectDashboard + `
		WHERE tenant_id = $1 AND (created_by = $2 OR is_shared = TRUE)
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer rows.Close()

	dashboards := []*api.Dashboard{}
	for rows.Next() {
		dashboard := &api.Dashboard{}
		if err := rows.Scan(
			&dashboard.ID, &dashboard.TenantID, &dashboard.Name, &dashboard.Description,
			&dashboard.CreatedBy, &dashboard.IsShared, &dashboard.CreatedAt, &dashboard.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dashboard: %w", err)
		}
		dashboards = append(dashboards, dashboard)
	}
	return dashboards, rows.Err()
}

// Update persists mutable dashboard fields
func (s *Store) Update(ctx context.Context, dashboard *api.Dashboard) error {
	query := `
		UPDATE dashboards
		SET name = $3, description = $4, is_shared = $5, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		dashboard.ID, dashboard.TenantID, dashboard.Name, dashboard.Description, dashboard.IsShared,
	).Scan(&dashboard.UpdatedAt)
	if err == sql.ErrNoRows {
		return api.NewNotFoundError("dashboard", dashboard.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update dashboard: %w", err)
	}
	return nil
}

// Delete removes a dashboard; widgets go with it via ON DELETE CASCADE
func (s *Store) Delete(ctx context.Context, id, tenantID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM dashboards WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete dashboard: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return api.NewNotFoundError("dashboard", id)
	}
	return nil
}

// CreateWidget inserts a widget for a dashboard
func (s *Store) CreateWidget(ctx context.Context, widget *api.Widget) error {
	queryJSON, err := json.Marshal(widget.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal widget query: %w", err)
	}
	positionJSON, err := json.Marshal(widget.Position)
	if err != nil {
		return fmt.Errorf("failed to marshal widget position: %w", err)
	}

	query := `
		INSERT INTO widgets (id, dashboard_id, title, widget_type, query, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		widget.ID, widget.DashboardID, widget.Title, widget.WidgetType, queryJSON, positionJSON,
	).Scan(&widget.CreatedAt, &widget.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create widget: %w", err)
	}
	return nil
}

// GetWidget returns a single widget on the given dashboard
func (s *Store) GetWidget(ctx context.Context, id, dashboardID string) (*api.Widget, error) {
	query := `
		SELECT id, dashboard_id, title, widget_type, query, position, created_at, updated_at
		FROM widgets
		WHERE id = $1 AND dashboard_id = $2
	`
	widget, err := scanWidget(s.db.QueryRowContext(ctx, query, id, dashboardID))
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("widget", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get widget: %w", err)
	}
	return widget, nil
}

// ListWidgets returns a dashboard's widgets in grid order
func (s *Store) ListWidgets(ctx context.Context, dashboardID string) ([]api.Widget, error) {
	query := `
		SELECT id, dashboard_id, title, widget_type, query, position, created_at, updated_at
		FROM widgets
		WHERE dashboard_id = $1
		ORDER BY (position->>'y')::int, (position->>'x')::int, created_at
	`
	rows, err := s.db.QueryContext(ctx, query, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list widgets: %w", err)
	}
	defer rows.Close()

	widgets := []api.Widget{}
	for rows.Next() {
		widget, err := scanWidget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan widget: %w", err)
		}
		widgets = append(widgets, *widget)
	}
	return widgets, rows.Err()
}

// UpdateWidget persists mutable widget fields
func (s *Store) UpdateWidget(ctx context.Context, widget *api.Widget) error {
	queryJSON, err := json.Marshal(widget.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal widget query: %w", err)
	}
	positionJSON, err := json.Marshal(widget.Position)
	if err != nil {
		return fmt.Errorf("failed to marshal widget position: %w", err)
	}

	query := `
		UPDATE widgets
		SET title = $3, widget_type = $4, query = $5, position = $6, updated_at = NOW()
		WHERE id = $1 AND dashboard_id = $2
		RETURNING updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		widget.ID, widget.DashboardID, widget.Title, widget.WidgetType, queryJSON, positionJSON,
	).Scan(&widget.UpdatedAt)
	if err == sql.ErrNoRows {
		return api.NewNotFoundError("widget", widget.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update widget: %w", err)
	}
	return nil
}

// DeleteWidget removes a widget from a dashboard
func (s *Store) DeleteWidget(ctx context.Context, id, dashboardID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM widgets WHERE id = $1 AND dashboard_id = $2`, id, dashboardID)
	if err != nil {
		return fmt.Errorf("failed to delete widget: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return api.NewNotFoundError("widget", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWidget(row rowScanner) (*api.Widget, error) {
	widget := &api.Widget{}
	var queryJSON, positionJSON []byte
	err := row.Scan(
		&widget.ID, &widget.DashboardID, &widget.Title, &widget.WidgetType,
		&queryJSON, &positionJSON, &widget.CreatedAt, &widget.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(queryJSON) > 0 {
		if err := json.Unmarshal(queryJSON, &widget.Query); err != nil {
			return nil, fmt.Errorf("failed to unmarshal widget query: %w", err)
		}
	}
	if len(positionJSON) > 0 {
		if err := json.Unmarshal(positionJSON, &widget.Position); err != nil {
			return nil, fmt.Errorf("failed to unmarshal widget position: %w", err)
		}
	}
	return widget, nil
}
