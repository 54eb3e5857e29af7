package analytics

import (
	"context"
	"database/sql"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

// Rollup computes pre-aggregated metrics from raw events across all
// tenants. It runs out-of-band on a schedule; the aggregator only ever
// reads what it wrote.
type Rollup struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewRollup creates a new rollup job
func NewRollup(db *sql.DB, logger *observability.Logger) *Rollup {
	return &Rollup{db: db, logger: logger}
}

// RollupDaily computes the per-type daily event counts for every tenant for
// the given calendar day. Re-running for the same day overwrites.
func (r *Rollup) RollupDaily(ctx context.Context, date time.Time) error {
	query := `
		INSERT INTO metrics (
			id, tenant_id, metric_name, value, granularity,
			period_start, period_end, metadata
		)
		SELECT
			gen_random_uuid(),
			tenant_id,
			'events.' || event_type AS metric_name,
			COUNT(*)::numeric AS value,
			'day' AS granularity,
			$1::date AS period_start,
			$1::date + INTERVAL '1 day' AS period_end,
			jsonb_build_object('count', COUNT(*)) AS metadata
		FROM events
		WHERE created_at >= $1::date
			AND created_at < $1::date + INTERVAL '1 day'
		GROUP BY tenant_id, event_type
		ON CONFLICT (tenant_id, metric_name, granularity, period_start) DO UPDATE SET
			value = EXCLUDED.value,
			period_end = EXCLUDED.period_end,
			metadata = EXCLUDED.metadata
	`
	if _, err := r.db.ExecContext(ctx, query, date); err != nil {
		return err
	}

	return r.rollupDailyUniqueUsers(ctx, date)
}

// rollupDailyUniqueUsers writes the events.unique_users metric for the day
func (r *Rollup) rollupDailyUniqueUsers(ctx context.Context, date time.Time) error {
	query := `
		INSERT INTO metrics (
			id, tenant_id, metric_name, value, granularity,
			period_start, period_end, metadata
		)
		SELECT
			gen_random_uuid(),
			tenant_id,
			'events.unique_users' AS metric_name,
			COUNT(DISTINCT user_id)::numeric AS value,
			'day' AS granularity,
			$1::date AS period_start,
			$1::date + INTERVAL '1 day' AS period_end,
			jsonb_build_object('count', COUNT(DISTINCT user_id)) AS metadata
		FROM events
		WHERE created_at >= $1::date
			AND created_at < $1::date + INTERVAL '1 day'
			AND user_id IS NOT NULL
		GROUP BY tenant_id
		ON CONFLICT (tenant_id, metric_name, granularity, period_start) DO UPDATE SET
			value = EXCLUDED.value,
			period_end = EXCLUDED.period_end,
			metadata = EXCLUDED.metadata
	`
	_, err := r.db.ExecContext(ctx, query, date)
	return err
}

// RollupWeekly folds daily rollups into weekly ones. weekStart should be
// the first day of the week.
func (r *Rollup) RollupWeekly(ctx context.Context, weekStart time.Time) error {
	weekEnd := weekStart.AddDate(0, 0, 7)

	query := `
		INSERT INTO metrics (
			id, tenant_id, metric_name, value, granularity,
			period_start, period_end, metadata
		)
		SELECT
			gen_random_uuid(),
			tenant_id,
			metric_name,
			SUM(value) AS value,
			'week' AS granularity,
			$1::date AS period_start,
			$2::date AS period_end,
			jsonb_build_object('count', SUM(value)) AS metadata
		FROM metrics
		WHERE granularity = 'day'
			AND period_start >= $1::date
			AND period_start < $2::date
		GROUP BY tenant_id, metric_name
		ON CONFLICT (tenant_id, metric_name, granularity, period_start) DO UPDATE SET
			value = EXCLUDED.value,
			period_end = EXCLUDED.period_end,
			metadata = EXCLUDED.metadata
	`
	_, err := r.db.ExecContext(ctx, query, weekStart, weekEnd)
	return err
}

// RollupMonthly folds daily rollups into monthly ones. month should be the
// first day of the month.
func (r *Rollup) RollupMonthly(ctx context.Context, month time.Time) error {
	nextMonth := month.AddDate(0, 1, 0)

	query := `
		INSERT INTO metrics (
			id, tenant_id, metric_name, value, granularity,
			period_start, period_end, metadata
		)
		SELECT
			gen_random_uuid(),
			tenant_id,
			metric_name,
			SUM(value) AS value,
			'month' AS granularity,
			$1::date AS period_start,
			$2::date AS period_end,
			jsonb_build_object('count', SUM(value)) AS metadata
		FROM metrics
		WHERE granularity = 'day'
			AND period_start >= $1::date
			AND period_start < $2::date
		GROUP BY tenant_id, metric_name
		ON CONFLICT (tenant_id, metric_name, granularity, period_start) DO UPDATE SET
			value = EXCLUDED.value,
			period_end = EXCLUDED.period_end,
			metadata = EXCLUDED.metadata
	`
	_, err := r.db.ExecContext(ctx, query, month, nextMonth)
	return err
}

// RunDaily executes the daily rollup for yesterday and today. Running for
// today keeps dashboards warm; yesterday catches late-arriving events.
func (r *Rollup) RunDaily(ctx context.Context) error {
	now := time.Now().UTC()
	for _, date := range []time.Time{now.AddDate(0, 0, -1), now} {
		start := time.Now()
		if err := r.RollupDaily(ctx, date); err != nil {
			r.logger.WithError(err).WithField("date", date.Format("2006-01-02")).Error("daily rollup failed")
			return err
		}
		r.logger.WithFields(map[string]interface{}{
			"date":     date.Format("2006-01-02"),
			"duration": time.Since(start).String(),
		}).Info("daily rollup completed")
	}
	return nil
}
