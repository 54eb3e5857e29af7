package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pulsedeck/pulsedeck/pkg/api"
)

// TemplateStore persists report templates
type TemplateStore struct {
	db *sql.DB
}

// NewTemplateStore creates a new template store
func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// Create stores a template
func (s *TemplateStore) Create(ctx context.Context, template *api.ReportTemplate) error {
	configJSON, err := json.Marshal(template.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal template config: %w", err)
	}

	query := `
		INSERT INTO report_templates (
			id, tenant_id, name, description, created_by, config, default_format, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		template.ID, template.TenantID, template.Name, template.Description,
		template.CreatedBy, configJSON, template.DefaultFormat, template.IsActive,
	).Scan(&template.CreatedAt, &template.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create report template: %w", err)
	}
	return nil
}

// Get retrieves a template scoped to a tenant. A cross-tenant ID reads as
// not found.
func (s *TemplateStore) Get(ctx context.Context, tenantID, id string) (*api.ReportTemplate, error) {
	query := `
		SELECT id, tenant_id, name, description, created_by, config, default_format, is_active,
			created_at, updated_at
		FROM report_templates
		WHERE tenant_id = $1 AND id = $2
	`
	template := &api.ReportTemplate{}
	var configJSON []byte
	err := s.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&template.ID, &template.TenantID, &template.Name, &template.Description,
		&template.CreatedBy, &configJSON, &template.DefaultFormat, &template.IsActive,
		&template.CreatedAt, &template.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("report template", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report template: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &template.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template config: %w", err)
		}
	}
	return template, nil
}

// List returns a tenant's templates, newest first. Inactive templates are
// included only when includeInactive is set.
func (s *TemplateStore) List(ctx context.Context, tenantID string, includeInactive bool) ([]*api.ReportTemplate, error) {
	query := `
		SELECT id, tenant_id, name, description, created_by, config, default_format, is_active,
			created_at, updated_at
		FROM report_templates
		WHERE tenant_id = $1
	`
	if !includeInactive {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list report templates: %w", err)
	}
	defer rows.Close()

	var templates []*api.ReportTemplate
	for rows.Next() {
		template := &api.ReportTemplate{}
		var configJSON []byte
		if err := rows.Scan(
			&template.ID, &template.TenantID, &template.Name, &template.Description,
			&template.CreatedBy, &configJSON, &template.DefaultFormat, &template.IsActive,
			&template.CreatedAt, &template.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report template: %w", err)
		}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &template.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal template config: %w", err)
			}
		}
		templates = append(templates, template)
	}
	return templates, rows.Err()
}

// Update rewrites a template's mutable fields
func (s *TemplateStore) Update(ctx context.Context, template *api.ReportTemplate) error {
	configJSON, err := json.Marshal(template.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal template config: %w", err)
	}

	query := `
		UPDATE report_templates
		SET name = $3, description = $4, config = $5, default_format = $6, is_active = $7,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		template.TenantID, template.ID, template.Name, template.Description,
		configJSON, template.DefaultFormat, template.IsActive,
	).Scan(&template.UpdatedAt)
	if err == sql.ErrNoRows {
		return api.NewNotFoundError("report template", template.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update report template: %w", err)
	}
	return nil
}

// RunStore persists report runs and enforces the one-directional status
// machine at the SQL level: every transition names the statuses it may
// leave from, so a terminal run can never be resurrected.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new run store
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Create stores a new pending run
func (s *RunStore) Create(ctx context.Context, run *api.ReportRun) error {
	query := `
		INSERT INTO report_runs (id, tenant_id, template_id, status, format, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		run.ID, run.TenantID, run.TemplateID, run.Status, run.Format, run.RequestedBy,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create report run: %w", err)
	}
	return nil
}

// Get retrieves a run scoped to a tenant
func (s *RunStore) Get(ctx context.Context, tenantID, id string) (*api.ReportRun, error) {
	query := selectRun + ` WHERE tenant_id = $1 AND id = $2`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("report run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report run: %w", err)
	}
	return run, nil
}

// GetAny retrieves a run by ID alone. Worker-side only; API paths go
// through Get with a tenant.
func (s *RunStore) GetAny(ctx context.Context, id string) (*api.ReportRun, error) {
	query := selectRun + ` WHERE id = $1`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("report run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report run: %w", err)
	}
	return run, nil
}

// History returns a tenant's runs, newest first, optionally filtered by
// template.
func (s *RunStore) History(ctx context.Context, tenantID, templateID string, limit int) ([]*api.ReportRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := selectRun + ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if templateID != "" {
		args = append(args, templateID)
		query += fmt.Sprintf(" AND template_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list report runs: %w", err)
	}
	defer rows.Close()

	var runs []*api.ReportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkProcessing transitions a run to processing and stamps started_at.
// Valid from pending (first pickup) or processing (queue retry); a run
// already terminal is left untouched and reported via the bool.
func (s *RunStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE report_runs
		SET status = $2, started_at = COALESCE(started_at, NOW())
		WHERE id = $1 AND status = ANY($3)
	`
	result, err := s.db.ExecContext(ctx, query, id, api.RunProcessing,
		pq.Array([]string{string(api.RunPending), string(api.RunProcessing)}))
	if err != nil {
		return false, fmt.Errorf("failed to mark run processing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check run transition: %w", err)
	}
	return affected > 0, nil
}

// MarkCompleted transitions a processing run to completed with its artifact
func (s *RunStore) MarkCompleted(ctx context.Context, id, outputURL, fileName string, fileSize int64) error {
	query := `
		UPDATE report_runs
		SET status = $2, output_url = $3, file_name = $4, file_size = $5,
			error_message = NULL, completed_at = NOW()
		WHERE id = $1 AND status = $6
	`
	result, err := s.db.ExecContext(ctx, query, id, api.RunCompleted, outputURL, fileName, fileSize, api.RunProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark run completed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run transition: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s is not processing, refusing completion", id)
	}
	return nil
}

// MarkFailed transitions a run to failed and records the error message.
// Valid from pending or processing; terminal runs are untouched.
func (s *RunStore) MarkFailed(ctx context.Context, id, message string) error {
	query := `
		UPDATE report_runs
		SET status = $2, error_message = $3, completed_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`
	_, err := s.db.ExecContext(ctx, query, id, api.RunFailed, message,
		pq.Array([]string{string(api.RunPending), string(api.RunProcessing)}))
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// FailStale fails every run stuck in processing since before cutoff.
// Covers worker crashes between pickup and completion; the queue's retry
// bookkeeping is gone by then, so the run is closed out rather than
// requeued. Returns the number of runs failed.
func (s *RunStore) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	query := `
		UPDATE report_runs
		SET status = $1, error_message = $2, completed_at = NOW()
		WHERE status = $3 AND started_at IS NOT NULL AND started_at < $4
	`
	result, err := s.db.ExecContext(ctx, query, api.RunFailed, message, api.RunProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale runs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count stale runs: %w", err)
	}
	return affected, nil
}

const selectRun = `
	SELECT id, tenant_id, template_id, status, format, output_url, file_name, file_size,
		error_message, started_at, completed_at, requested_by, created_at
	FROM report_runs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*api.ReportRun, error) {
	run := &api.ReportRun{}
	var outputURL, fileName, errorMessage sql.NullString
	var fileSize sql.NullInt64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.TenantID, &run.TemplateID, &run.Status, &run.Format,
		&outputURL, &fileName, &fileSize, &errorMessage,
		&startedAt, &completedAt, &run.RequestedBy, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.OutputURL = outputURL.String
	run.FileName = fileName.String
	run.FileSize = fileSize.Int64
	run.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// ScheduleStore persists scheduled reports
type ScheduleStore struct {
	db *sql.DB
}

// NewScheduleStore creates a new schedule store
func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Create stores a scheduled report
func (s *ScheduleStore) Create(ctx context.Context, schedule *api.ScheduledReport) error {
	query := `
		INSERT INTO scheduled_reports (
			id, tenant_id, template_id, name, cron_expression, timezone,
			format, recipients, is_active, next_run_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		schedule.ID, schedule.TenantID, schedule.TemplateID, schedule.Name,
		schedule.CronExpression, schedule.Timezone, schedule.Format,
		pq.Array(schedule.Recipients), schedule.IsActive, schedule.NextRunAt, schedule.CreatedBy,
	).Scan(&schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scheduled report: %w", err)
	}
	return nil
}

// Get retrieves a scheduled report scoped to a tenant
func (s *ScheduleStore) Get(ctx context.Context, tenantID, id string) (*api.ScheduledReport, error) {
	query := selectSchedule + ` WHERE tenant_id = $1 AND id = $2`

	schedule, err := scanSchedule(s.db.QueryRowContext(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, api.NewNotFoundError("scheduled report", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled report: %w", err)
	}
	return schedule, nil
}

// ListDue returns active schedules whose next run time has passed
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time) ([]*api.ScheduledReport, error) {
	query := selectSchedule + `
		WHERE is_active = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*api.ScheduledReport
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled report: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// List returns a tenant's schedules, newest first
func (s *ScheduleStore) List(ctx context.Context, tenantID string) ([]*api.ScheduledReport, error) {
	query := selectSchedule + ` WHERE tenant_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled reports: %w", err)
	}
	defer rows.Close()

	var schedules []*api.ScheduledReport
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled report: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// MarkRun records a fired schedule's last and next run times
func (s *ScheduleStore) MarkRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	query := `
		UPDATE scheduled_reports
		SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, lastRun, nextRun); err != nil {
		return fmt.Errorf("failed to mark schedule run: %w", err)
	}
	return nil
}

// Delete removes a scheduled report
func (s *ScheduleStore) Delete(ctx context.Context, tenantID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_reports WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return api.NewNotFoundError("scheduled report", id)
	}
	return nil
}

const selectSchedule = `
	SELECT id, tenant_id, template_id, name, cron_expression, timezone, format,
		recipients, is_active, last_run_at, next_run_at, created_by, created_at, updated_at
	FROM scheduled_reports`

func scanSchedule(row rowScanner) (*api.ScheduledReport, error) {
	schedule := &api.ScheduledReport{}
	var timezone sql.NullString
	var lastRunAt, nextRunAt sql.NullTime
	var recipients pq.StringArray

	err := row.Scan(
		&schedule.ID, &schedule.TenantID, &schedule.TemplateID, &schedule.Name,
		&schedule.CronExpression, &timezone, &schedule.Format,
		&recipients, &schedule.IsActive, &lastRunAt, &nextRunAt,
		&schedule.CreatedBy, &schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.Timezone = timezone.String
	schedule.Recipients = recipients
	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		schedule.NextRunAt = &nextRunAt.Time
	}
	return schedule, nil
}
