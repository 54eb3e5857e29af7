package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/config"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
	"github.com/pulsedeck/pulsedeck/pkg/queue"
)

// JobGenerateReport is the queue job name for report generation
const JobGenerateReport = "reports:generate"

// GeneratePayload is the job payload carried through the queue
type GeneratePayload struct {
	RunID      string           `json:"run_id"`
	TenantID   string           `json:"tenant_id"`
	TemplateID string           `json:"template_id"`
	Format     api.ReportFormat `json:"format"`
}

// Service is the request-side report pipeline: template CRUD, run creation
// and enqueue, status polling, and schedules. Generation itself happens on
// the worker via Processor.
type Service struct {
	templates *TemplateStore
	runs      *RunStore
	schedules *ScheduleStore
	queue     *queue.Queue
	logger    *observability.Logger

	attempts int
	backoff  time.Duration
}

// NewService creates the report service
func NewService(templates *TemplateStore, runs *RunStore, schedules *ScheduleStore, q *queue.Queue, logger *observability.Logger, queueCfg config.QueueConfig) *Service {
	attempts := queueCfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := queueCfg.BackoffBase
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Service{
		templates: templates,
		runs:      runs,
		schedules: schedules,
		queue:     q,
		logger:    logger,
		attempts:  attempts,
		backoff:   backoff,
	}
}

// CreateTemplateRequest is the input for creating a report template
type CreateTemplateRequest struct {
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Config        api.ReportConfig `json:"config"`
	DefaultFormat api.ReportFormat `json:"default_format,omitempty"`
}

// CreateTemplate stores a new template for the tenant
func (s *Service) CreateTemplate(ctx context.Context, tenantID, userID string, req CreateTemplateRequest) (*api.ReportTemplate, error) {
	if req.Name == "" {
		return nil, api.NewValidationError("name", "must not be empty")
	}
	if req.DefaultFormat == "" {
		req.DefaultFormat = api.FormatJSON
	}
	if !req.DefaultFormat.Valid() {
		return nil, api.NewValidationError("default_format", "must be one of pdf, excel, csv, json")
	}
	for i, section := range req.Config.Sections {
		switch section.Type {
		case api.SectionSummary, api.SectionChart, api.SectionTable, api.SectionText:
		default:
			return nil, api.NewValidationError("config", fmt.Sprintf("section %d has unknown type %q", i, section.Type))
		}
	}

	template := &api.ReportTemplate{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Name:          req.Name,
		Description:   req.Description,
		CreatedBy:     userID,
		Config:        req.Config,
		DefaultFormat: req.DefaultFormat,
		IsActive:      true,
	}
	if err := s.templates.Create(ctx, template); err != nil {
		return nil, err
	}
	return template, nil
}

// GetTemplate retrieves a template for the tenant
func (s *Service) GetTemplate(ctx context.Context, tenantID, id string) (*api.ReportTemplate, error) {
	return s.templates.Get(ctx, tenantID, id)
}

// ListTemplates returns the tenant's templates
func (s *Service) ListTemplates(ctx context.Context, tenantID string, includeInactive bool) ([]*api.ReportTemplate, error) {
	return s.templates.List(ctx, tenantID, includeInactive)
}

// UpdateTemplateRequest is the input for updating a template
type UpdateTemplateRequest struct {
	Name          *string           `json:"name,omitempty"`
	Description   *string           `json:"description,omitempty"`
	Config        *api.ReportConfig `json:"config,omitempty"`
	DefaultFormat *api.ReportFormat `json:"default_format,omitempty"`
	IsActive      *bool             `json:"is_active,omitempty"`
}

// UpdateTemplate updates a template's mutable fields. Deactivation goes
// through IsActive; there is no hard delete.
func (s *Service) UpdateTemplate(ctx context.Context, tenantID, id string, req UpdateTemplateRequest) (*api.ReportTemplate, error) {
	template, err := s.templates.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		template.Name = *req.Name
	}
	if req.Description != nil {
		template.Description = *req.Description
	}
	if req.Config != nil {
		template.Config = *req.Config
	}
	if req.DefaultFormat != nil {
		if !req.DefaultFormat.Valid() {
			return nil, api.NewValidationError("default_format", "must be one of pdf, excel, csv, json")
		}
		template.DefaultFormat = *req.DefaultFormat
	}
	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}

	if err := s.templates.Update(ctx, template); err != nil {
		return nil, err
	}
	return template, nil
}

// GenerateReport creates a pending run and enqueues the generation job.
// The run returns immediately; callers poll GetRunStatus. Enqueue failures
// are not absorbed: the run is closed out as failed and the error returned.
func (s *Service) GenerateReport(ctx context.Context, tenantID, userID, templateID string, format api.ReportFormat) (*api.ReportRun, error) {
	template, err := s.templates.Get(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if !template.IsActive {
		return nil, api.NewValidationError("template_id", "template is not active")
	}

	if format == "" {
		format = template.DefaultFormat
	}
	if !format.Valid() {
		return nil, api.NewValidationError("format", "must be one of pdf, excel, csv, json")
	}

	run := &api.ReportRun{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		TemplateID:  template.ID,
		Status:      api.RunPending,
		Format:      format,
		RequestedBy: userID,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	payload := GeneratePayload{
		RunID:      run.ID,
		TenantID:   tenantID,
		TemplateID: template.ID,
		Format:     format,
	}
	if _, err := s.queue.Enqueue(ctx, JobGenerateReport, payload, queue.Options{
		Attempts: s.attempts,
		Backoff:  s.backoff,
	}); err != nil {
		if failErr := s.runs.MarkFailed(ctx, run.ID, "failed to enqueue generation job"); failErr != nil {
			s.logger.WithError(failErr).WithField("run_id", run.ID).Error("failed to close out unenqueued run")
		}
		return nil, fmt.Errorf("failed to enqueue report job: %w", err)
	}

	s.logger.WithTenant(tenantID).WithFields(map[string]interface{}{
		"run_id":      run.ID,
		"template_id": template.ID,
		"format":      string(format),
	}).Info("report run enqueued")
	return run, nil
}

// GetRunStatus returns a run for status polling
func (s *Service) GetRunStatus(ctx context.Context, tenantID, runID string) (*api.ReportRun, error) {
	return s.runs.Get(ctx, tenantID, runID)
}

// GetRunHistory returns the tenant's recent runs, newest first
func (s *Service) GetRunHistory(ctx context.Context, tenantID, templateID string, limit int) ([]*api.ReportRun, error) {
	return s.runs.History(ctx, tenantID, templateID, limit)
}

// CreateScheduleRequest is the input for creating a scheduled report
type CreateScheduleRequest struct {
	TemplateID     string           `json:"template_id"`
	Name           string           `json:"name"`
	CronExpression string           `json:"cron_expression"`
	Timezone       string           `json:"timezone,omitempty"`
	Format         api.ReportFormat `json:"format,omitempty"`
	Recipients     []string         `json:"recipients,omitempty"`
}

// CreateSchedule stores a scheduled report after validating its cron
// expression and computing the first fire time.
func (s *Service) CreateSchedule(ctx context.Context, tenantID, userID string, req CreateScheduleRequest) (*api.ScheduledReport, error) {
	if req.Name == "" {
		return nil, api.NewValidationError("name", "must not be empty")
	}

	template, err := s.templates.Get(ctx, tenantID, req.TemplateID)
	if err != nil {
		return nil, err
	}

	format := req.Format
	if format == "" {
		format = template.DefaultFormat
	}
	if !format.Valid() {
		return nil, api.NewValidationError("format", "must be one of pdf, excel, csv, json")
	}

	next, err := nextCronTime(req.CronExpression, req.Timezone, time.Now())
	if err != nil {
		return nil, api.NewValidationError("cron_expression", err.Error())
	}

	schedule := &api.ScheduledReport{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		TemplateID:     template.ID,
		Name:           req.Name,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Format:         format,
		Recipients:     req.Recipients,
		IsActive:       true,
		NextRunAt:      &next,
		CreatedBy:      userID,
	}
	if err := s.schedules.Create(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// ListSchedules returns the tenant's scheduled reports
func (s *Service) ListSchedules(ctx context.Context, tenantID string) ([]*api.ScheduledReport, error) {
	return s.schedules.List(ctx, tenantID)
}

// DeleteSchedule removes a scheduled report
func (s *Service) DeleteSchedule(ctx context.Context, tenantID, id string) error {
	return s.schedules.Delete(ctx, tenantID, id)
}

// nextCronTime parses a standard five-field cron expression and returns
// its next fire time after from, in the schedule's timezone.
func nextCronTime(expression, timezone string, from time.Time) (time.Time, error) {
	spec, err := cron.ParseStandard(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		from = from.In(loc)
	}

	return spec.Next(from), nil
}
