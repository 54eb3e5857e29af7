package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pulsedeck/pulsedeck/pkg/api"
)

func TestInsertEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	store := NewEventStore(db)

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &api.Event{
		ID:        "e-1",
		TenantID:  "t-1",
		EventType: "page_view",
		EventName: "home",
		UserID:    "u-1",
		Properties: map[string]any{
			"path": "/",
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Insert(context.Background(), event); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestInsertBatchChunking(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	store := NewEventStore(db)

	// 250 events split into chunks of 100, 100, 50
	events := make([]*api.Event, 250)
	for i := range events {
		events[i] = &api.Event{
			ID:        fmt.Sprintf("e-%d", i),
			TenantID:  "t-1",
			EventType: "click",
			CreatedAt: time.Now().UTC(),
		}
	}

	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO events").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	inserted, err := store.InsertBatch(context.Background(), events)
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if inserted != 250 {
		t.Errorf("Expected 250 inserted, got %d", inserted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestInsertBatchPartialFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	store := NewEventStore(db)

	events := make([]*api.Event, 150)
	for i := range events {
		events[i] = &api.Event{
			ID:        fmt.Sprintf("e-%d", i),
			TenantID:  "t-1",
			EventType: "click",
			CreatedAt: time.Now().UTC(),
		}
	}

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO events").
		WillReturnError(fmt.Errorf("connection reset"))

	inserted, err := store.InsertBatch(context.Background(), events)
	if err == nil {
		t.Fatal("Expected error from failing chunk")
	}
	// The first chunk stays written; there is no cross-chunk rollback
	if inserted != 100 {
		t.Errorf("Expected 100 inserted before failure, got %d", inserted)
	}
}

func TestQueryEventsStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	store := NewEventStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("t-1", "page_view").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))
	mock.ExpectQuery("SELECT id, tenant_id, event_type").
		WithArgs("t-1", "page_view", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "event_type", "event_name", "properties",
			"user_id", "session_id", "page_url", "referrer", "user_agent", "ip_address",
			"device_info", "geo_info", "created_at",
		}).AddRow(
			"e-1", "t-1", "page_view", "home", []byte(`{"path":"/"}`),
			"u-1", nil, nil, nil, nil, nil,
			nil, nil, now,
		))

	events, total, err := store.Query(context.Background(), "t-1", QueryFilter{
		EventType: "page_view",
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if total != 42 {
		t.Errorf("Expected total 42, got %d", total)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Properties["path"] != "/" {
		t.Errorf("Expected properties to round-trip, got %v", events[0].Properties)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestBuildEventWhere(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		filter   QueryFilter
		wantArgs int
	}{
		{"tenant only", QueryFilter{}, 1},
		{"event type", QueryFilter{EventType: "click"}, 2},
		{"full filter", QueryFilter{
			EventType: "click",
			EventName: "buy",
			UserID:    "u-1",
			SessionID: "s-1",
			StartDate: &now,
			EndDate:   &now,
		}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildEventWhere("t-1", tt.filter)
			if len(args) != tt.wantArgs {
				t.Errorf("Expected %d args, got %d", tt.wantArgs, len(args))
			}
			if args[0] != "t-1" {
				t.Errorf("Expected tenant ID as first arg, got %v", args[0])
			}
			if where == "" {
				t.Error("Expected non-empty WHERE clause")
			}
		})
	}
}

func TestDailyCountsAscending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	store := NewEventStore(db)
	day1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT DATE").
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).
			AddRow(day1, 10).
			AddRow(day2, 25))

	points, err := store.DailyCounts(context.Background(), "t-1", day1)
	if err != nil {
		t.Fatalf("DailyCounts failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(points))
	}
	// Aug 2 had no events and is absent, not zero-filled
	if points[0].Date != "2026-08-01" || points[1].Date != "2026-08-03" {
		t.Errorf("Unexpected dates: %s, %s", points[0].Date, points[1].Date)
	}
	if points[1].Value != 25 {
		t.Errorf("Expected value 25, got %f", points[1].Value)
	}
}
