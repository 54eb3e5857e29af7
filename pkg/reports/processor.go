package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
	"github.com/pulsedeck/pulsedeck/pkg/queue"
)

const defaultSectionDays = 30

// tableColumns is the fixed column set of an events table section when the
// template names none.
var tableColumns = []string{"id", "event_type", "event_name", "user_id", "created_at"}

// Processor is the worker-side half of the pipeline. It owns every run
// mutation after creation: pickup to processing, then a terminal state.
type Processor struct {
	templates *TemplateStore
	runs      *RunStore
	analytics *analytics.Service
	artifacts ArtifactStore
	logger    *observability.Logger
	obs       *observability.Metrics
}

// NewProcessor creates the report processor
func NewProcessor(templates *TemplateStore, runs *RunStore, analyticsService *analytics.Service, artifacts ArtifactStore, logger *observability.Logger, obs *observability.Metrics) *Processor {
	return &Processor{
		templates: templates,
		runs:      runs,
		analytics: analyticsService,
		artifacts: artifacts,
		logger:    logger,
		obs:       obs,
	}
}

// Register binds the processor to a queue worker
func (p *Processor) Register(w *queue.Worker) {
	w.Register(JobGenerateReport, p.Handle)
}

// Handle processes one generation job. Any failure is recorded on the run
// and returned so the queue's retry policy governs re-attempts; a retry
// re-enters processing, never pending.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	var payload GeneratePayload
	if err := job.Unmarshal(&payload); err != nil {
		return fmt.Errorf("undecodable report job payload: %w", err)
	}

	logger := p.logger.WithTenant(payload.TenantID).WithField("run_id", payload.RunID)

	picked, err := p.runs.MarkProcessing(ctx, payload.RunID)
	if err != nil {
		return err
	}
	if !picked {
		// Terminal run on a late redelivery; nothing to redo.
		logger.Warn("skipping report job for terminal run")
		return nil
	}

	start := time.Now()
	outputURL, fileName, fileSize, err := p.generate(ctx, payload)
	if err != nil {
		logger.WithError(err).Error("report generation failed")
		if failErr := p.runs.MarkFailed(ctx, payload.RunID, err.Error()); failErr != nil {
			logger.WithError(failErr).Error("failed to record run failure")
		}
		if p.obs != nil {
			p.obs.ReportRunsTotal.WithLabelValues(string(api.RunFailed)).Inc()
		}
		return err
	}

	if err := p.runs.MarkCompleted(ctx, payload.RunID, outputURL, fileName, fileSize); err != nil {
		logger.WithError(err).Error("failed to record run completion")
		return err
	}

	if p.obs != nil {
		p.obs.ReportRunsTotal.WithLabelValues(string(api.RunCompleted)).Inc()
		p.obs.ReportRunDuration.Observe(time.Since(start).Seconds())
	}
	logger.WithFields(map[string]interface{}{
		"output_url": outputURL,
		"duration":   time.Since(start).String(),
	}).Info("report run completed")
	return nil
}

func (p *Processor) generate(ctx context.Context, payload GeneratePayload) (outputURL, fileName string, fileSize int64, err error) {
	template, err := p.templates.Get(ctx, payload.TenantID, payload.TemplateID)
	if err != nil {
		return "", "", 0, err
	}

	doc, err := p.resolve(ctx, payload.TenantID, template)
	if err != nil {
		return "", "", 0, err
	}

	content, contentType, extension, err := render(doc, payload.Format)
	if err != nil {
		return "", "", 0, err
	}

	key := fmt.Sprintf("reports/%s/%s.%s", payload.TenantID, payload.RunID, extension)
	outputURL, err = p.artifacts.Put(ctx, key, content, contentType)
	if err != nil {
		return "", "", 0, err
	}

	fileName = fmt.Sprintf("%s-%s.%s", template.Name, doc.GeneratedAt.Format("2006-01-02"), extension)
	return outputURL, fileName, int64(len(content)), nil
}

// resolve queries the data behind every section of the template
func (p *Processor) resolve(ctx context.Context, tenantID string, template *api.ReportTemplate) (*Document, error) {
	doc := &Document{
		Title:       template.Config.Title,
		TenantID:    tenantID,
		GeneratedAt: time.Now().UTC(),
	}
	if doc.Title == "" {
		doc.Title = template.Name
	}

	for i, section := range template.Config.Sections {
		rendered, err := p.resolveSection(ctx, tenantID, section)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve section %d: %w", i, err)
		}
		doc.Sections = append(doc.Sections, rendered)
	}
	return doc, nil
}

func (p *Processor) resolveSection(ctx context.Context, tenantID string, section api.ReportSection) (RenderedSection, error) {
	rendered := RenderedSection{Type: section.Type, Title: section.Title}
	days := defaultSectionDays
	if section.DataSource != nil && section.DataSource.Days > 0 {
		days = section.DataSource.Days
	}

	switch section.Type {
	case api.SectionText:
		rendered.Text = section.Body

	case api.SectionSummary:
		overview, err := p.analytics.GetDashboardOverview(ctx, tenantID, days)
		if err != nil {
			return rendered, err
		}
		rendered.Overview = overview

	case api.SectionChart:
		series, err := p.chartSeries(ctx, tenantID, section.DataSource, days)
		if err != nil {
			return rendered, err
		}
		rendered.Series = series

	case api.SectionTable:
		columns, rows, err := p.tableRows(ctx, tenantID, section)
		if err != nil {
			return rendered, err
		}
		rendered.Columns = columns
		rendered.Rows = rows

	default:
		return rendered, fmt.Errorf("unknown section type %q", section.Type)
	}

	return rendered, nil
}

// chartSeries pulls the section's time series: a named rollup metric when
// the data source names one, the daily event trend otherwise.
func (p *Processor) chartSeries(ctx context.Context, tenantID string, ds *api.DataSource, days int) ([]api.TimePoint, error) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -days)

	if ds != nil && len(ds.MetricNames) > 0 {
		return p.analytics.MetricSeries(ctx, tenantID, ds.MetricNames[0], since, now, api.GranularityDay)
	}

	overview, err := p.analytics.GetDashboardOverview(ctx, tenantID, days)
	if err != nil {
		return nil, err
	}
	return overview.DailyTrend, nil
}

func (p *Processor) tableRows(ctx context.Context, tenantID string, section api.ReportSection) ([]string, [][]string, error) {
	filter := analytics.QueryFilter{Limit: 100}
	if section.DataSource != nil {
		filter.EventType = section.DataSource.EventType
		if section.DataSource.Days > 0 {
			since := time.Now().UTC().AddDate(0, 0, -section.DataSource.Days)
			filter.StartDate = &since
		}
	}

	result, err := p.analytics.QueryEvents(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, err
	}

	rows := make([][]string, 0, len(result.Events))
	for _, event := range result.Events {
		rows = append(rows, []string{
			event.ID,
			event.EventType,
			event.EventName,
			event.UserID,
			event.CreatedAt.Format(time.RFC3339),
		})
	}
	return tableColumns, rows, nil
}
