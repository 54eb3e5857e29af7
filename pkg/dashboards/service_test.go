package dashboards

import (
	"context"
	"io"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(NewStore(db), nil, logger), mock
}

func dashboardRow(id, createdBy string, shared bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "description", "created_by", "is_shared", "created_at", "updated_at",
	}).AddRow(id, "t-1", "Traffic", "", createdBy, shared, now, now)
}

func emptyWidgetRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "dashboard_id", "title", "widget_type", "query", "position", "created_at", "updated_at",
	})
}

func TestCreateDashboardRequiresName(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Create(context.Background(), "t-1", "u-1", CreateDashboardRequest{})
	if !api.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGetPrivateDashboardForbiddenForNonOwner(t *testing.T) {
	service, mock := newTestService(t)

	mock.ExpectQuery("FROM dashboards").
		WithArgs("d-1", "t-1").
		WillReturnRows(dashboardRow("d-1", "u-owner", false))

	_, err := service.Get(context.Background(), "d-1", "t-1", "u-other")
	if !api.IsForbidden(err) {
		t.Errorf("expected forbidden error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetSharedDashboardVisibleToTenant(t *testing.T) {
	service, mock := newTestService(t)

	mock.ExpectQuery("FROM dashboards").
		WithArgs("d-1", "t-1").
		WillReturnRows(dashboardRow("d-1", "u-owner", true))
	mock.ExpectQuery("FROM widgets").
		WithArgs("d-1").
		WillReturnRows(emptyWidgetRows())

	dashboard, err := service.Get(context.Background(), "d-1", "t-1", "u-other")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if dashboard.Widgets == nil {
		t.Error("widgets should be an empty slice, not nil")
	}
}

func TestUpdateSharedDashboardStillOwnerOnly(t *testing.T) {
	service, mock := newTestService(t)

	mock.ExpectQuery("FROM dashboards").
		WithArgs("d-1", "t-1").
		WillReturnRows(dashboardRow("d-1", "u-owner", true))

	name := "Renamed"
	_, err := service.Update(context.Background(), "d-1", "t-1", "u-other", UpdateDashboardRequest{Name: &name})
	if !api.IsForbidden(err) {
		t.Errorf("expected forbidden error for non-owner update, got %v", err)
	}
}

func TestAddWidgetValidatesType(t *testing.T) {
	service, mock := newTestService(t)

	mock.ExpectQuery("FROM dashboards").
		WithArgs("d-1", "t-1").
		WillReturnRows(dashboardRow("d-1", "u-1", false))

	_, err := service.AddWidget(context.Background(), "d-1", "t-1", "u-1", WidgetRequest{
		Title:      "Page views",
		WidgetType: "pie_chart",
	})
	if !api.IsValidation(err) {
		t.Errorf("expected validation error for unknown widget type, got %v", err)
	}
}

func TestAddWidgetByOwner(t *testing.T) {
	service, mock := newTestService(t)

	mock.ExpectQuery("FROM dashboards").
		WithArgs("d-1", "t-1").
		WillReturnRows(dashboardRow("d-1", "u-1", false))
	mock.ExpectQuery("INSERT INTO widgets").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(time.Now(), time.Now()))

	widget, err := service.AddWidget(context.Background(), "d-1", "t-1", "u-1", WidgetRequest{
		Title:      "Page views",
		WidgetType: "line_chart",
		Query:      map[string]any{"metric": "events.page_view"},
		Position:   api.WidgetPosition{X: 0, Y: 0, Width: 6, Height: 4},
	})
	if err != nil {
		t.Fatalf("AddWidget() error = %v", err)
	}
	if widget.ID == "" {
		t.Error("widget should be assigned an ID")
	}
	if widget.DashboardID != "d-1" {
		t.Errorf("dashboardID = %q, want d-1", widget.DashboardID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRemoveWidgetNotFound(t *testing.T) {
	service, mock := newTestService(t)

	mock.ExpectQuery("FROM dashboards").
		WithArgs("d-1", "t-1").
		WillReturnRows(dashboardRow("d-1", "u-1", false))
	mock.ExpectExec("DELETE FROM widgets").
		WithArgs("w-404", "d-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := service.RemoveWidget(context.Background(), "w-404", "d-1", "t-1", "u-1")
	if !api.IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}
