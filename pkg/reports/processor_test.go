package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
	"github.com/pulsedeck/pulsedeck/pkg/queue"
)

// memArtifacts is an in-memory ArtifactStore for processor tests
type memArtifacts struct {
	objects map[string][]byte
	failPut bool
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{objects: make(map[string][]byte)}
}

func (m *memArtifacts) Put(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	if m.failPut {
		return "", fmt.Errorf("bucket unavailable")
	}
	m.objects[key] = content
	return "s3://test-bucket/" + key, nil
}

func (m *memArtifacts) Get(ctx context.Context, key string) ([]byte, error) {
	content, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object")
	}
	return content, nil
}

func (m *memArtifacts) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func newTestProcessor(t *testing.T, artifacts ArtifactStore) (*Processor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	analyticsService := analytics.NewService(
		analytics.NewEventStore(db), analytics.NewMetricStore(db), logger, analytics.ServiceOptions{},
	)

	processor := NewProcessor(
		NewTemplateStore(db), NewRunStore(db), analyticsService, artifacts, logger, nil,
	)
	return processor, mock
}

func generateJob(t *testing.T) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(GeneratePayload{
		RunID:      "run-1",
		TenantID:   "t-1",
		TemplateID: "tpl-1",
		Format:     api.FormatJSON,
	})
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return &queue.Job{ID: "j-1", Name: JobGenerateReport, Payload: payload, MaxAttempts: 3}
}

func TestProcessorCompletesRun(t *testing.T) {
	artifacts := newMemArtifacts()
	processor, mock := newTestProcessor(t, artifacts)

	mock.ExpectExec("UPDATE report_runs").
		WillReturnResult(sqlmock.NewResult(0, 1)) // pending -> processing
	mock.ExpectQuery("SELECT id, tenant_id, name").
		WithArgs("t-1", "tpl-1").
		WillReturnRows(templateRow("tpl-1", "t-1", true))
	mock.ExpectExec("UPDATE report_runs").
		WillReturnResult(sqlmock.NewResult(0, 1)) // processing -> completed

	if err := processor.Handle(context.Background(), generateJob(t)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	content, err := artifacts.Get(context.Background(), "reports/t-1/run-1.json")
	if err != nil {
		t.Fatalf("Expected artifact to be stored: %v", err)
	}

	doc := &Document{}
	if err := json.Unmarshal(content, doc); err != nil {
		t.Fatalf("Artifact is not a JSON document: %v", err)
	}
	if doc.Title != "Weekly Summary" {
		t.Errorf("Expected document title from template config, got %q", doc.Title)
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Text != "hello" {
		t.Errorf("Expected resolved text section, got %+v", doc.Sections)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestProcessorRecordsFailureAndReturnsError(t *testing.T) {
	artifacts := newMemArtifacts()
	artifacts.failPut = true
	processor, mock := newTestProcessor(t, artifacts)

	mock.ExpectExec("UPDATE report_runs").
		WillReturnResult(sqlmock.NewResult(0, 1)) // pending -> processing
	mock.ExpectQuery("SELECT id, tenant_id, name").
		WithArgs("t-1", "tpl-1").
		WillReturnRows(templateRow("tpl-1", "t-1", true))
	mock.ExpectExec("UPDATE report_runs").
		WillReturnResult(sqlmock.NewResult(0, 1)) // -> failed

	err := processor.Handle(context.Background(), generateJob(t))
	if err == nil {
		t.Fatal("Expected error so the queue retries")
	}
	if !strings.Contains(err.Error(), "bucket unavailable") {
		t.Errorf("Expected upload error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestProcessorSkipsTerminalRun(t *testing.T) {
	processor, mock := newTestProcessor(t, newMemArtifacts())

	// Zero rows updated: run already completed or failed
	mock.ExpectExec("UPDATE report_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := processor.Handle(context.Background(), generateJob(t)); err != nil {
		t.Fatalf("Expected terminal run to be skipped quietly, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestRunStoreRefusesCompletionOutsideProcessing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	store := NewRunStore(db)

	mock.ExpectExec("UPDATE report_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.MarkCompleted(context.Background(), "run-1", "s3://x", "x.json", 10)
	if err == nil {
		t.Fatal("Expected refusal to complete a non-processing run")
	}
}

func TestFailStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	store := NewRunStore(db)
	cutoff := time.Now().Add(-30 * time.Minute)

	mock.ExpectExec("UPDATE report_runs").
		WillReturnResult(sqlmock.NewResult(0, 2))

	failed, err := store.FailStale(context.Background(), cutoff, staleRunMessage)
	if err != nil {
		t.Fatalf("FailStale failed: %v", err)
	}
	if failed != 2 {
		t.Errorf("Expected 2 stale runs failed, got %d", failed)
	}
}
