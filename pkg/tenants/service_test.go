package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(db, logger), mock, func() { db.Close() }
}

func tenantRow(id, subdomain string, tier api.SubscriptionTier) *sqlmock.Rows {
	limits, _ := json.Marshal(DefaultLimits(tier))
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "subdomain", "tier", "is_active", "limits", "created_at", "updated_at",
	}).AddRow(id, "Acme", subdomain, string(tier), true, limits, now, now)
}

func TestCreateTenant(t *testing.T) {
	service, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, name, subdomain").
		WithArgs("acme").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO tenants").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(time.Now(), time.Now()))

	tenant, err := service.Create(context.Background(), CreateTenantRequest{
		Name:      "Acme",
		Subdomain: "acme",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if tenant.ID == "" {
		t.Error("Expected generated tenant ID")
	}
	if tenant.Tier != api.TierFree {
		t.Errorf("Expected free tier default, got %s", tenant.Tier)
	}
	if tenant.Limits.MaxEventsPerMonth != 100_000 {
		t.Errorf("Expected free tier event limit, got %d", tenant.Limits.MaxEventsPerMonth)
	}
	if !tenant.IsActive {
		t.Error("Expected new tenant to be active")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestCreateTenantSubdomainConflict(t *testing.T) {
	service, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, name, subdomain").
		WithArgs("acme").
		WillReturnRows(tenantRow("t-1", "acme", api.TierFree))

	_, err := service.Create(context.Background(), CreateTenantRequest{
		Name:      "Acme Again",
		Subdomain: "acme",
	})
	if !api.IsConflict(err) {
		t.Fatalf("Expected conflict error, got %v", err)
	}
}

func TestCreateTenantEmptySubdomain(t *testing.T) {
	service, _, cleanup := newTestService(t)
	defer cleanup()

	_, err := service.Create(context.Background(), CreateTenantRequest{Name: "NoSub"})
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestGetTenantNotFound(t *testing.T) {
	service, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, name, subdomain").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := service.Get(context.Background(), "missing")
	if !api.IsNotFound(err) {
		t.Fatalf("Expected not found error, got %v", err)
	}
}

func TestGetTenant(t *testing.T) {
	service, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, name, subdomain").
		WithArgs("t-1").
		WillReturnRows(tenantRow("t-1", "acme", api.TierPro))

	tenant, err := service.Get(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tenant.Subdomain != "acme" {
		t.Errorf("Expected subdomain acme, got %s", tenant.Subdomain)
	}
	if tenant.Limits.MaxDashboards != 100 {
		t.Errorf("Expected pro tier dashboard limit, got %d", tenant.Limits.MaxDashboards)
	}
}

func TestUpdateTenantTierResetsLimits(t *testing.T) {
	service, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, name, subdomain").
		WithArgs("t-1").
		WillReturnRows(tenantRow("t-1", "acme", api.TierFree))
	mock.ExpectQuery("UPDATE tenants").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

	tier := api.TierEnterprise
	tenant, err := service.Update(context.Background(), "t-1", UpdateTenantRequest{Tier: &tier})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if tenant.Limits.MaxEventsPerMonth != 100_000_000 {
		t.Errorf("Expected enterprise limits after tier change, got %d", tenant.Limits.MaxEventsPerMonth)
	}
}

func TestDeleteTenantNotFound(t *testing.T) {
	service, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM tenants").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := service.Delete(context.Background(), "missing")
	if !api.IsNotFound(err) {
		t.Fatalf("Expected not found error, got %v", err)
	}
}

func TestDefaultLimitsPerTier(t *testing.T) {
	tests := []struct {
		tier      api.SubscriptionTier
		maxEvents int64
		retention int
	}{
		{api.TierFree, 100_000, 30},
		{api.TierStarter, 1_000_000, 90},
		{api.TierPro, 10_000_000, 365},
		{api.TierEnterprise, 100_000_000, 730},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			limits := DefaultLimits(tt.tier)
			if limits.MaxEventsPerMonth != tt.maxEvents {
				t.Errorf("Expected %d events, got %d", tt.maxEvents, limits.MaxEventsPerMonth)
			}
			if limits.DataRetentionDays != tt.retention {
				t.Errorf("Expected %d retention days, got %d", tt.retention, limits.DataRetentionDays)
			}
		})
	}
}
