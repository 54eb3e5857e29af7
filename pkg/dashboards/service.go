package dashboards

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/cache"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

var widgetTypes = map[string]bool{
	"counter":    true,
	"line_chart": true,
	"bar_chart":  true,
	"table":      true,
}

// Service enforces dashboard visibility rules. A dashboard is readable
// by its creator and, when shared, by anyone in the tenant; only the
// creator may change or delete it.
type Service struct {
	store  *Store
	cache  *cache.Cache // optional
	logger *observability.Logger
}

func NewService(store *Store, c *cache.Cache, logger *observability.Logger) *Service {
	return &Service{store: store, cache: c, logger: logger}
}

// CreateDashboardRequest is the input for creating a dashboard
type CreateDashboardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsShared    bool   `json:"is_shared"`
}

func (s *Service) Create(ctx context.Context, tenantID, userID string, req CreateDashboardRequest) (*api.Dashboard, error) {
	if req.Name == "" {
		return nil, api.NewValidationError("name", "dashboard name is required")
	}

	dashboard := &api.Dashboard{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   userID,
		IsShared:    req.IsShared,
		Widgets:     []api.Widget{},
	}
	if err := s.store.Create(ctx, dashboard); err != nil {
		return nil, err
	}
	return dashboard, nil
}

// List returns the dashboards visible to the user
func (s *Service) List(ctx context.Context, tenantID, userID string) ([]*api.Dashboard, error) {
	return s.store.ListVisible(ctx, tenantID, userID)
}

// Get returns a dashboard with its widgets. Private dashboards are
// only visible to their creator.
func (s *Service) Get(ctx context.Context, id, tenantID, userID string) (*api.Dashboard, error) {
	dashboard, err := s.store.Get(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if !dashboard.IsShared && dashboard.CreatedBy != userID {
		return nil, api.NewForbiddenError("dashboard is private")
	}

	widgets, err := s.store.ListWidgets(ctx, dashboard.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load widgets: %w", err)
	}
	dashboard.Widgets = widgets
	return dashboard, nil
}

// UpdateDashboardRequest carries optional dashboard changes
type UpdateDashboardRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsShared    *bool   `json:"is_shared,omitempty"`
}

func (s *Service) Update(ctx context.Context, id, tenantID, userID string, req UpdateDashboardRequest) (*api.Dashboard, error) {
	dashboard, err := s.requireOwner(ctx, id, tenantID, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, api.NewValidationError("name", "dashboard name cannot be empty")
		}
		dashboard.Name = *req.Name
	}
	if req.Description != nil {
		dashboard.Description = *req.Description
	}
	if req.IsShared != nil {
		dashboard.IsShared = *req.IsShared
	}

	if err := s.store.Update(ctx, dashboard); err != nil {
		return nil, err
	}
	s.invalidate(ctx, tenantID, id)
	return dashboard, nil
}

func (s *Service) Delete(ctx context.Context, id, tenantID, userID string) error {
	if _, err := s.requireOwner(ctx, id, tenantID, userID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, tenantID); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, id)
	return nil
}

// WidgetRequest is the input for adding or updating a widget
type WidgetRequest struct {
	Title      string             `json:"title"`
	WidgetType string             `json:"widget_type"`
	Query      map[string]any     `json:"query,omitempty"`
	Position   api.WidgetPosition `json:"position"`
}

func (s *Service) AddWidget(ctx context.Context, dashboardID, tenantID, userID string, req WidgetRequest) (*api.Widget, error) {
	if _, err := s.requireOwner(ctx, dashboardID, tenantID, userID); err != nil {
		return nil, err
	}
	if err := validateWidget(req); err != nil {
		return nil, err
	}

	widget := &api.Widget{
		ID:          uuid.New().String(),
		DashboardID: dashboardID,
		Title:       req.Title,
		WidgetType:  req.WidgetType,
		Query:       req.Query,
		Position:    req.Position,
	}
	if err := s.store.CreateWidget(ctx, widget); err != nil {
		return nil, err
	}
	s.invalidate(ctx, tenantID, dashboardID)
	return widget, nil
}

func (s *Service) UpdateWidget(ctx context.Context, widgetID, dashboardID, tenantID, userID string, req WidgetRequest) (*api.Widget, error) {
	if _, err := s.requireOwner(ctx, dashboardID, tenantID, userID); err != nil {
		return nil, err
	}
	if err := validateWidget(req); err != nil {
		return nil, err
	}

	widget, err := s.store.GetWidget(ctx, widgetID, dashboardID)
	if err != nil {
		return nil, err
	}
	widget.Title = req.Title
	widget.WidgetType = req.WidgetType
	widget.Query = req.Query
	widget.Position = req.Position

	if err := s.store.UpdateWidget(ctx, widget); err != nil {
		return nil, err
	}
	s.invalidate(ctx, tenantID, dashboardID)
	return widget, nil
}

func (s *Service) RemoveWidget(ctx context.Context, widgetID, dashboardID, tenantID, userID string) error {
	if _, err := s.requireOwner(ctx, dashboardID, tenantID, userID); err != nil {
		return err
	}
	if err := s.store.DeleteWidget(ctx, widgetID, dashboardID); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, dashboardID)
	return nil
}

// requireOwner loads the dashboard and rejects mutation by anyone but
// its creator. Sharing grants read access only.
func (s *Service) requireOwner(ctx context.Context, id, tenantID, userID string) (*api.Dashboard, error) {
	dashboard, err := s.store.Get(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if dashboard.CreatedBy != userID {
		return nil, api.NewForbiddenError("only the dashboard owner can modify it")
	}
	return dashboard, nil
}

func validateWidget(req WidgetRequest) error {
	if req.Title == "" {
		return api.NewValidationError("title", "widget title is required")
	}
	if !widgetTypes[req.WidgetType] {
		return api.NewValidationError("widget_type", fmt.Sprintf("unknown widget type %q", req.WidgetType))
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, tenantID, dashboardID string) {
	if s.cache == nil {
		return
	}
	s.cache.Del(ctx, cache.TenantKey(tenantID, "dashboards:"+dashboardID))
}
