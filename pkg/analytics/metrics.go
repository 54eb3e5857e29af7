package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pulsedeck/pulsedeck/pkg/api"
)

// MetricStore reads and writes pre-aggregated rollups. Rollup jobs write,
// the aggregator and reports read.
type MetricStore struct {
	db *sql.DB
}

// NewMetricStore creates a new metric store
func NewMetricStore(db *sql.DB) *MetricStore {
	return &MetricStore{db: db}
}

// Query returns metrics matching tenant, names and granularity whose period
// start falls within [start, end], ascending by period start.
func (s *MetricStore) Query(ctx context.Context, tenantID string, names []string, start, end time.Time, granularity api.Granularity) ([]*api.Metric, error) {
	query := `
		SELECT id, tenant_id, metric_name, value, granularity,
			period_start, period_end, dimensions, metadata, created_at
		FROM metrics
		WHERE tenant_id = $1
			AND metric_name = ANY($2)
			AND granularity = $3
			AND period_start >= $4
			AND period_start <= $5
		ORDER BY period_start ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, pq.Array(names), granularity, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*api.Metric
	for rows.Next() {
		metric := &api.Metric{}
		var dimensionsJSON, metadataJSON []byte
		if err := rows.Scan(
			&metric.ID, &metric.TenantID, &metric.MetricName, &metric.Value, &metric.Granularity,
			&metric.PeriodStart, &metric.PeriodEnd, &dimensionsJSON, &metadataJSON, &metric.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		if len(dimensionsJSON) > 0 {
			if err := json.Unmarshal(dimensionsJSON, &metric.Dimensions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metric dimensions: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			metric.Metadata = &api.MetricMetadata{}
			if err := json.Unmarshal(metadataJSON, metric.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metric metadata: %w", err)
			}
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

// Upsert writes a rollup value, replacing any previous value for the same
// (tenant, name, granularity, period start).
func (s *MetricStore) Upsert(ctx context.Context, metric *api.Metric) error {
	var dimensionsJSON, metadataJSON []byte
	var err error

	if metric.Dimensions != nil {
		if dimensionsJSON, err = json.Marshal(metric.Dimensions); err != nil {
			return fmt.Errorf("failed to marshal metric dimensions: %w", err)
		}
	}
	if metric.Metadata != nil {
		if metadataJSON, err = json.Marshal(metric.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metric metadata: %w", err)
		}
	}

	query := `
		INSERT INTO metrics (
			id, tenant_id, metric_name, value, granularity,
			period_start, period_end, dimensions, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, metric_name, granularity, period_start) DO UPDATE SET
			value = EXCLUDED.value,
			period_end = EXCLUDED.period_end,
			dimensions = EXCLUDED.dimensions,
			metadata = EXCLUDED.metadata
	`
	_, err = s.db.ExecContext(ctx, query,
		metric.ID, metric.TenantID, metric.MetricName, metric.Value, metric.Granularity,
		metric.PeriodStart, metric.PeriodEnd, dimensionsJSON, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metric: %w", err)
	}
	return nil
}

// Series returns a single metric's values in the window as a time series,
// ascending. Used by the insight engine as input data.
func (s *MetricStore) Series(ctx context.Context, tenantID, name string, start, end time.Time, granularity api.Granularity) ([]api.TimePoint, error) {
	metrics, err := s.Query(ctx, tenantID, []string{name}, start, end, granularity)
	if err != nil {
		return nil, err
	}

	points := make([]api.TimePoint, 0, len(metrics))
	for _, metric := range metrics {
		points = append(points, api.TimePoint{
			Date:  metric.PeriodStart.Format("2006-01-02"),
			Value: metric.Value,
		})
	}
	return points, nil
}
