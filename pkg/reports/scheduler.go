package reports

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

// staleRunMessage is recorded on runs closed out by the reaper
const staleRunMessage = "processing timed out"

// Scheduler fires due scheduled reports and reaps runs abandoned in
// processing by a crashed worker. It runs inside the worker process.
type Scheduler struct {
	schedules *ScheduleStore
	runs      *RunStore
	service   *Service
	logger    *observability.Logger

	staleTimeout time.Duration
	cron         *cron.Cron
}

// NewScheduler creates the scheduler
func NewScheduler(schedules *ScheduleStore, runs *RunStore, service *Service, logger *observability.Logger, staleTimeout time.Duration) *Scheduler {
	if staleTimeout <= 0 {
		staleTimeout = 30 * time.Minute
	}
	return &Scheduler{
		schedules:    schedules,
		runs:         runs,
		service:      service,
		logger:       logger,
		staleTimeout: staleTimeout,
		cron:         cron.New(),
	}
}

// Start begins the schedule and reaper loops. Ticks run every minute;
// the reaper every five.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("* * * * *", s.tick); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("*/5 * * * *", s.reap); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("report scheduler started")
	return nil
}

// Stop halts the loops, waiting for a running tick to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("report scheduler stopped")
}

// tick fires every due schedule once and advances its next run time
func (s *Scheduler) tick() {
	defer observability.RecoverPanic(s.logger, "report scheduler tick")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := time.Now()
	due, err := s.schedules.ListDue(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("failed to list due schedules")
		return
	}

	for _, schedule := range due {
		logger := s.logger.WithTenant(schedule.TenantID).WithField("schedule_id", schedule.ID)

		_, err := s.service.GenerateReport(ctx, schedule.TenantID, schedule.CreatedBy, schedule.TemplateID, schedule.Format)
		if err != nil {
			if api.IsNotFound(err) || api.IsValidation(err) {
				// Template gone or deactivated; stop the schedule from
				// firing every tick forever.
				logger.WithError(err).Warn("schedule points at unusable template, deactivating")
				s.deactivate(ctx, schedule.TenantID, schedule.ID)
				continue
			}
			logger.WithError(err).Error("failed to fire scheduled report")
			continue
		}

		next, err := nextCronTime(schedule.CronExpression, schedule.Timezone, now)
		if err != nil {
			logger.WithError(err).Error("stored cron expression no longer parses, deactivating")
			s.deactivate(ctx, schedule.TenantID, schedule.ID)
			continue
		}
		if err := s.schedules.MarkRun(ctx, schedule.ID, now, next); err != nil {
			logger.WithError(err).Error("failed to advance schedule")
		}
	}
}

func (s *Scheduler) deactivate(ctx context.Context, tenantID, id string) {
	query := `UPDATE scheduled_reports SET is_active = FALSE, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`
	if _, err := s.schedules.db.ExecContext(ctx, query, tenantID, id); err != nil {
		s.logger.WithError(err).WithField("schedule_id", id).Error("failed to deactivate schedule")
	}
}

// reap fails runs stuck in processing past the stale timeout. The queue's
// retry window has long closed for such runs; closing them out keeps
// status polling truthful instead of reporting processing forever.
func (s *Scheduler) reap() {
	defer observability.RecoverPanic(s.logger, "stale run reaper")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.staleTimeout)
	failed, err := s.runs.FailStale(ctx, cutoff, staleRunMessage)
	if err != nil {
		s.logger.WithError(err).Error("failed to reap stale runs")
		return
	}
	if failed > 0 {
		s.logger.WithField("count", failed).Warn("failed stale processing runs")
	}
}
