package insights

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/cache"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

const (
	defaultInsightTTL   = time.Hour
	defaultForecastDays = 30
)

// Service answers insight requests. Provider calls that fail are
// answered by the deterministic local provider instead of surfacing
// the failure to the caller.
type Service struct {
	provider  Provider
	fallback  MockProvider
	analytics *analytics.Service
	cache     *cache.Cache
	logger    *observability.Logger
	metrics   *observability.Metrics
	ttl       time.Duration
}

// ServiceOptions configures optional service collaborators
type ServiceOptions struct {
	Provider   Provider // nil leaves only the mock provider
	Cache      *cache.Cache
	Metrics    *observability.Metrics
	InsightTTL time.Duration
}

func NewService(analyticsService *analytics.Service, logger *observability.Logger, opts ServiceOptions) *Service {
	ttl := opts.InsightTTL
	if ttl <= 0 {
		ttl = defaultInsightTTL
	}
	return &Service{
		provider:  opts.Provider,
		analytics: analyticsService,
		cache:     opts.Cache,
		logger:    logger,
		metrics:   opts.Metrics,
		ttl:       ttl,
	}
}

// AnalyzeTrend is a pure computation and bypasses the cache
func (s *Service) AnalyzeTrend(series []api.TimePoint) *TrendAnalysis {
	return AnalyzeTrend(series)
}

// DetectAnomalies is a pure computation and bypasses the cache
func (s *Service) DetectAnomalies(series []api.TimePoint) *AnomalyReport {
	return DetectAnomalies(series)
}

// GetInsights asks the configured provider to analyze a metric
// snapshot against a caller prompt. Responses are cached per tenant
// under a prefix of the prompt so repeated questions stay cheap.
func (s *Service) GetInsights(ctx context.Context, tenantID string, data map[string]interface{}, prompt string) (*Prediction, error) {
	if s.cache == nil {
		return s.analyze(ctx, data, prompt), nil
	}

	key := cache.TenantKey(tenantID, "insights:prediction:"+promptKey(prompt))
	var prediction Prediction
	err := s.cache.Wrap(ctx, key, s.ttl, &prediction, func(ctx context.Context) (interface{}, error) {
		return s.analyze(ctx, data, prompt), nil
	})
	if err != nil {
		return s.analyze(ctx, data, prompt), nil
	}
	return &prediction, nil
}

// ForecastMetric projects a tenant metric forward. The series fed to
// the provider is the metric's daily values over the preceding thirty
// days.
func (s *Service) ForecastMetric(ctx context.Context, tenantID, metricName string, periods int) (*Forecast, error) {
	if metricName == "" {
		return nil, api.NewValidationError("metric_name", "metric name is required")
	}
	if periods <= 0 {
		periods = 7
	}

	produce := func(ctx context.Context) (interface{}, error) {
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -defaultForecastDays)
		series, err := s.analytics.MetricSeries(ctx, tenantID, metricName, start, end, api.GranularityDay)
		if err != nil {
			return nil, fmt.Errorf("failed to load series for %s: %w", metricName, err)
		}
		return s.forecast(ctx, series, periods), nil
	}

	if s.cache == nil {
		result, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		return result.(*Forecast), nil
	}

	key := cache.TenantKey(tenantID, fmt.Sprintf("insights:forecast:%s:%d", metricName, periods))
	var forecast Forecast
	if err := s.cache.Wrap(ctx, key, s.ttl, &forecast, produce); err != nil {
		return nil, err
	}
	return &forecast, nil
}

// analyze tries the configured provider and falls back to the mock on
// any failure. The mock itself cannot fail.
func (s *Service) analyze(ctx context.Context, data map[string]interface{}, prompt string) *Prediction {
	if s.provider != nil {
		prediction, err := s.provider.Analyze(ctx, data, prompt)
		if err == nil {
			s.countPrediction(s.provider.Name(), "success")
			return prediction
		}
		s.countPrediction(s.provider.Name(), "error")
		s.logger.WithError(err).Warn("prediction provider failed, using local fallback")
	}

	prediction, _ := s.fallback.Analyze(ctx, data, prompt)
	s.countPrediction(s.fallback.Name(), "success")
	return prediction
}

func (s *Service) forecast(ctx context.Context, series []api.TimePoint, periods int) *Forecast {
	if s.provider != nil {
		forecast, err := s.provider.Forecast(ctx, series, periods)
		if err == nil {
			s.countPrediction(s.provider.Name(), "success")
			return forecast
		}
		s.countPrediction(s.provider.Name(), "error")
		s.logger.WithError(err).Warn("forecast provider failed, using local fallback")
	}

	forecast, _ := s.fallback.Forecast(ctx, series, periods)
	s.countPrediction(s.fallback.Name(), "success")
	return forecast
}

func (s *Service) countPrediction(provider, outcome string) {
	if s.metrics != nil {
		s.metrics.PredictionsTotal.WithLabelValues(provider, outcome).Inc()
	}
}

// promptKey derives a stable cache key fragment from the first part of
// the prompt. Long prompts share a key when their opening matches,
// which is acceptable for an advisory cache.
func promptKey(prompt string) string {
	if len(prompt) > 64 {
		prompt = prompt[:64]
	}
	return base64.RawURLEncoding.EncodeToString([]byte(prompt))
}
