package reports

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/config"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
	"github.com/pulsedeck/pulsedeck/pkg/queue"
)

func newTestReportService(t *testing.T) (*Service, sqlmock.Sqlmock, *queue.Queue) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	q := queue.New(client, logger, nil)

	service := NewService(
		NewTemplateStore(db), NewRunStore(db), NewScheduleStore(db),
		q, logger, config.QueueConfig{Attempts: 3, BackoffBase: 5 * time.Second},
	)
	return service, mock, q
}

func templateRow(id, tenantID string, active bool) *sqlmock.Rows {
	configJSON, _ := json.Marshal(api.ReportConfig{
		Title: "Weekly Summary",
		Sections: []api.ReportSection{
			{Type: api.SectionText, Body: "hello"},
		},
	})
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "description", "created_by", "config",
		"default_format", "is_active", "created_at", "updated_at",
	}).AddRow(id, tenantID, "Weekly", "", "u-1", configJSON, "json", active, now, now)
}

func TestCreateTemplateValidation(t *testing.T) {
	service, _, _ := newTestReportService(t)
	ctx := context.Background()

	_, err := service.CreateTemplate(ctx, "t-1", "u-1", CreateTemplateRequest{})
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error for empty name, got %v", err)
	}

	_, err = service.CreateTemplate(ctx, "t-1", "u-1", CreateTemplateRequest{
		Name:          "Weekly",
		DefaultFormat: "docx",
	})
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error for format, got %v", err)
	}

	_, err = service.CreateTemplate(ctx, "t-1", "u-1", CreateTemplateRequest{
		Name: "Weekly",
		Config: api.ReportConfig{
			Sections: []api.ReportSection{{Type: "hologram"}},
		},
	})
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error for section type, got %v", err)
	}
}

func TestGenerateReportCreatesPendingRunAndEnqueues(t *testing.T) {
	service, mock, q := newTestReportService(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, tenant_id, name").
		WithArgs("t-1", "tpl-1").
		WillReturnRows(templateRow("tpl-1", "t-1", true))
	mock.ExpectQuery("INSERT INTO report_runs").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	run, err := service.GenerateReport(ctx, "t-1", "u-1", "tpl-1", "")
	if err != nil {
		t.Fatalf("GenerateReport failed: %v", err)
	}
	if run.Status != api.RunPending {
		t.Errorf("Expected pending status, got %s", run.Status)
	}
	if run.Format != api.FormatJSON {
		t.Errorf("Expected template default format json, got %s", run.Format)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("Expected 1 enqueued job, got %d", depth)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGenerateReportTemplateNotFound(t *testing.T) {
	service, mock, _ := newTestReportService(t)

	mock.ExpectQuery("SELECT id, tenant_id, name").
		WithArgs("t-1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := service.GenerateReport(context.Background(), "t-1", "u-1", "missing", "")
	if !api.IsNotFound(err) {
		t.Fatalf("Expected not found error, got %v", err)
	}
}

func TestGenerateReportInactiveTemplate(t *testing.T) {
	service, mock, _ := newTestReportService(t)

	mock.ExpectQuery("SELECT id, tenant_id, name").
		WithArgs("t-1", "tpl-1").
		WillReturnRows(templateRow("tpl-1", "t-1", false))

	_, err := service.GenerateReport(context.Background(), "t-1", "u-1", "tpl-1", "")
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error for inactive template, got %v", err)
	}
}

func TestNextCronTime(t *testing.T) {
	from := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)

	next, err := nextCronTime("0 9 * * 1", "", from)
	if err != nil {
		t.Fatalf("nextCronTime failed: %v", err)
	}
	// Next Monday 09:00 after Tue Sep 1 2026
	if next.Weekday() != time.Monday || next.Hour() != 9 {
		t.Errorf("Expected Monday 09:00, got %v", next)
	}

	if _, err := nextCronTime("not a cron", "", from); err == nil {
		t.Error("Expected error for invalid expression")
	}
	if _, err := nextCronTime("0 9 * * 1", "Mars/Olympus", from); err == nil {
		t.Error("Expected error for invalid timezone")
	}
}
