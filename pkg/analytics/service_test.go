package analytics

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/cache"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

func newTestService(t *testing.T, withCache bool) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	var c *cache.Cache
	if withCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		c = cache.New(client, logger, cache.Options{})
	}

	service := NewService(NewEventStore(db), NewMetricStore(db), logger, ServiceOptions{
		Cache: c,
	})
	return service, mock
}

func TestTrackEventRequiresType(t *testing.T) {
	service, _ := newTestService(t, false)

	_, err := service.TrackEvent(context.Background(), "t-1", TrackEventRequest{})
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestTrackEventAssignsIdentity(t *testing.T) {
	service, mock := newTestService(t, false)

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event, err := service.TrackEvent(context.Background(), "t-1", TrackEventRequest{
		EventType: "signup",
		UserID:    "u-1",
	})
	if err != nil {
		t.Fatalf("TrackEvent failed: %v", err)
	}
	if event.ID == "" {
		t.Error("Expected generated event ID")
	}
	if event.TenantID != "t-1" {
		t.Errorf("Expected tenant t-1, got %s", event.TenantID)
	}
	if event.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func TestTrackBatchValidatesEveryEvent(t *testing.T) {
	service, _ := newTestService(t, false)

	_, err := service.TrackBatch(context.Background(), "t-1", []TrackEventRequest{
		{EventType: "click"},
		{}, // missing type
	})
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestQueryEventsClampsLimit(t *testing.T) {
	service, mock := newTestService(t, false)

	tests := []struct {
		name       string
		limit      int
		offset     int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", 0, 0, 100, 0},
		{"over max", 5000, 0, 1000, 0},
		{"negative offset", 50, -3, 50, 0},
		{"in range", 250, 10, 250, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectQuery("SELECT COUNT").
				WithArgs("t-1").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
			mock.ExpectQuery("SELECT id, tenant_id, event_type").
				WithArgs("t-1", tt.wantLimit, tt.wantOffset).
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "tenant_id", "event_type", "event_name", "properties",
					"user_id", "session_id", "page_url", "referrer", "user_agent", "ip_address",
					"device_info", "geo_info", "created_at",
				}))

			result, err := service.QueryEvents(context.Background(), "t-1", QueryFilter{
				Limit:  tt.limit,
				Offset: tt.offset,
			})
			if err != nil {
				t.Fatalf("QueryEvents failed: %v", err)
			}
			if result.Limit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, result.Limit)
			}
			if result.Offset != tt.wantOffset {
				t.Errorf("Expected offset %d, got %d", tt.wantOffset, result.Offset)
			}
			if result.Events == nil {
				t.Error("Expected empty slice, not nil")
			}
		})
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestQueryEventsCached(t *testing.T) {
	service, mock := newTestService(t, true)
	now := time.Now().UTC()

	// Database is hit exactly once; the second call is served from cache
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("t-1", "page_view").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT id, tenant_id, event_type").
		WithArgs("t-1", "page_view", 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "event_type", "event_name", "properties",
			"user_id", "session_id", "page_url", "referrer", "user_agent", "ip_address",
			"device_info", "geo_info", "created_at",
		}).AddRow(
			"e-1", "t-1", "page_view", nil, nil,
			nil, nil, nil, nil, nil, nil,
			nil, nil, now,
		))

	filter := QueryFilter{EventType: "page_view"}

	first, err := service.QueryEvents(context.Background(), "t-1", filter)
	if err != nil {
		t.Fatalf("First QueryEvents failed: %v", err)
	}
	second, err := service.QueryEvents(context.Background(), "t-1", filter)
	if err != nil {
		t.Fatalf("Second QueryEvents failed: %v", err)
	}

	if first.Total != 1 || second.Total != 1 {
		t.Errorf("Expected totals of 1, got %d and %d", first.Total, second.Total)
	}
	if len(second.Events) != 1 || second.Events[0].ID != "e-1" {
		t.Errorf("Expected cached event e-1, got %+v", second.Events)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Expected second call to skip the database: %v", err)
	}
}

func TestOverviewWindowAsymmetry(t *testing.T) {
	service, mock := newTestService(t, false)

	// All-time total is larger than the windowed per-type counts
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM events WHERE tenant_id").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(500))
	mock.ExpectQuery("SELECT event_type, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}).
			AddRow("page_view", 120).
			AddRow("click", 30))
	mock.ExpectQuery("SELECT DATE").
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).
			AddRow(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), 150))
	mock.ExpectQuery("SELECT COUNT\\(DISTINCT user_id\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	overview, err := service.GetDashboardOverview(context.Background(), "t-1", 0)
	if err != nil {
		t.Fatalf("GetDashboardOverview failed: %v", err)
	}

	if overview.TotalEvents != 500 {
		t.Errorf("Expected all-time total 500, got %d", overview.TotalEvents)
	}
	var windowed int64
	for _, tc := range overview.EventCounts {
		windowed += tc.Count
	}
	if windowed != 150 {
		t.Errorf("Expected windowed count 150, got %d", windowed)
	}
	if overview.TotalEvents == windowed {
		t.Error("All-time total should not track the windowed counts")
	}
	if overview.UniqueUsers != 7 {
		t.Errorf("Expected 7 unique users, got %d", overview.UniqueUsers)
	}
	if overview.Period.Days != 30 {
		t.Errorf("Expected 30 day default window, got %d", overview.Period.Days)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGetMetricsValidation(t *testing.T) {
	service, _ := newTestService(t, false)
	now := time.Now()

	_, err := service.GetMetrics(context.Background(), "t-1", MetricsQuery{
		MetricNames: []string{"events.page_view"},
		StartDate:   now.AddDate(0, 0, -7),
		EndDate:     now,
		Granularity: "decade",
	})
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error for granularity, got %v", err)
	}

	_, err = service.GetMetrics(context.Background(), "t-1", MetricsQuery{
		StartDate: now.AddDate(0, 0, -7),
		EndDate:   now,
	})
	if !api.IsValidation(err) {
		t.Fatalf("Expected validation error for empty names, got %v", err)
	}
}
