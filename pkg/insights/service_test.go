package insights

import (
	"context"
	"errors"
	"io"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/cache"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

type failingProvider struct {
	calls int
}

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Analyze(context.Context, map[string]interface{}, string) (*Prediction, error) {
	p.calls++
	return nil, errors.New("provider unavailable")
}

func (p *failingProvider) Forecast(context.Context, []api.TimePoint, int) (*Forecast, error) {
	p.calls++
	return nil, errors.New("provider unavailable")
}

func newTestInsightService(t *testing.T, provider Provider, withCache bool) (*Service, sqlmock.Sqlmock) {
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

	analyticsService := analytics.NewService(
		analytics.NewEventStore(db), analytics.NewMetricStore(db), logger, analytics.ServiceOptions{})

	service := NewService(analyticsService, logger, ServiceOptions{
		Provider: provider,
		Cache:    c,
	})
	return service, mock
}

func TestGetInsightsFallsBackOnProviderFailure(t *testing.T) {
	provider := &failingProvider{}
	service, _ := newTestInsightService(t, provider, false)

	prediction, err := service.GetInsights(context.Background(), "t-1",
		map[string]interface{}{"total_events": 100}, "how are we doing?")
	if err != nil {
		t.Fatalf("GetInsights() error = %v", err)
	}
	if prediction == nil || prediction.Prediction == "" {
		t.Fatal("expected a fallback prediction")
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestGetInsightsCachesPredictions(t *testing.T) {
	provider := &failingProvider{}
	service, _ := newTestInsightService(t, provider, true)

	ctx := context.Background()
	data := map[string]interface{}{"total_events": 100}

	first, err := service.GetInsights(ctx, "t-1", data, "same prompt")
	if err != nil {
		t.Fatalf("GetInsights() error = %v", err)
	}
	second, err := service.GetInsights(ctx, "t-1", data, "same prompt")
	if err != nil {
		t.Fatalf("GetInsights() second call error = %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (second call should hit the cache)", provider.calls)
	}
	if first.Prediction != second.Prediction {
		t.Errorf("cached prediction differs: %q vs %q", first.Prediction, second.Prediction)
	}
}

func TestForecastMetricRequiresName(t *testing.T) {
	service, _ := newTestInsightService(t, nil, false)

	_, err := service.ForecastMetric(context.Background(), "t-1", "", 7)
	if !api.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestForecastMetricUsesMockWhenUnconfigured(t *testing.T) {
	service, mock := newTestInsightService(t, nil, false)

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "metric_name", "value", "granularity",
		"period_start", "period_end", "dimensions", "metadata", "created_at",
	})
	mock.ExpectQuery("FROM metrics").WillReturnRows(rows)

	forecast, err := service.ForecastMetric(context.Background(), "t-1", "events.page_view", 3)
	if err != nil {
		t.Fatalf("ForecastMetric() error = %v", err)
	}
	if len(forecast.Points) != 3 {
		t.Errorf("points = %d, want 3", len(forecast.Points))
	}
	if forecast.Trend != TrendInsufficientData {
		t.Errorf("trend = %q, want %q for an empty series", forecast.Trend, TrendInsufficientData)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestForecastMetricCachesPerMetricAndPeriods(t *testing.T) {
	service, mock := newTestInsightService(t, nil, true)

	columns := []string{
		"id", "tenant_id", "metric_name", "value", "granularity",
		"period_start", "period_end", "dimensions", "metadata", "created_at",
	}
	// Two distinct cache entries, so the store is queried twice.
	mock.ExpectQuery("FROM metrics").WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery("FROM metrics").WillReturnRows(sqlmock.NewRows(columns))

	ctx := context.Background()
	if _, err := service.ForecastMetric(ctx, "t-1", "events.page_view", 7); err != nil {
		t.Fatalf("ForecastMetric() error = %v", err)
	}
	if _, err := service.ForecastMetric(ctx, "t-1", "events.page_view", 7); err != nil {
		t.Fatalf("ForecastMetric() cached call error = %v", err)
	}
	if _, err := service.ForecastMetric(ctx, "t-1", "events.page_view", 14); err != nil {
		t.Fatalf("ForecastMetric() with different periods error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
