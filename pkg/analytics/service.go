package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/cache"
	"github.com/pulsedeck/pulsedeck/pkg/observability"
)

const (
	defaultQueryLimit   = 100
	maxQueryLimit       = 1000
	defaultOverviewDays = 30
)

// Service is the analytics aggregation layer. Expensive reads go through
// the cache; writes go straight to the store.
type Service struct {
	events      *EventStore
	metricStore *MetricStore
	cache       *cache.Cache
	logger      *observability.Logger
	obs         *observability.Metrics

	overviewTTL time.Duration
	queryTTL    time.Duration
}

// ServiceOptions configures the analytics service
type ServiceOptions struct {
	// Cache is optional; nil disables caching and every read hits the store.
	Cache   *cache.Cache
	Metrics *observability.Metrics

	OverviewTTL time.Duration
	QueryTTL    time.Duration
}

// NewService creates the analytics service
func NewService(events *EventStore, metricStore *MetricStore, logger *observability.Logger, opts ServiceOptions) *Service {
	if opts.OverviewTTL <= 0 {
		opts.OverviewTTL = 300 * time.Second
	}
	if opts.QueryTTL <= 0 {
		opts.QueryTTL = 300 * time.Second
	}
	return &Service{
		events:      events,
		metricStore: metricStore,
		cache:       opts.Cache,
		logger:      logger,
		obs:         opts.Metrics,
		overviewTTL: opts.OverviewTTL,
		queryTTL:    opts.QueryTTL,
	}
}

// TrackEventRequest is the input for tracking a single event
type TrackEventRequest struct {
	EventType  string          `json:"event_type"`
	EventName  string          `json:"event_name,omitempty"`
	Properties map[string]any  `json:"properties,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	PageURL    string          `json:"page_url,omitempty"`
	Referrer   string          `json:"referrer,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	IPAddress  string          `json:"ip_address,omitempty"`
	DeviceInfo *api.DeviceInfo `json:"device_info,omitempty"`
	GeoInfo    *api.GeoInfo    `json:"geo_info,omitempty"`
}

// TrackEvent appends one event. The only validation is presence of the
// event type; events are never deduplicated.
func (s *Service) TrackEvent(ctx context.Context, tenantID string, req TrackEventRequest) (*api.Event, error) {
	if req.EventType == "" {
		return nil, api.NewValidationError("event_type", "must not be empty")
	}

	event := newEvent(tenantID, req)
	start := time.Now()
	if err := s.events.Insert(ctx, event); err != nil {
		return nil, err
	}

	if s.obs != nil {
		s.obs.EventInsertDuration.Observe(time.Since(start).Seconds())
		s.obs.EventsTrackedTotal.WithLabelValues(event.EventType).Inc()
	}
	return event, nil
}

// TrackBatch appends many events in store-side chunks. Partial success is
// possible: the returned count covers chunks written before any failure.
func (s *Service) TrackBatch(ctx context.Context, tenantID string, reqs []TrackEventRequest) (int, error) {
	if len(reqs) == 0 {
		return 0, nil
	}

	events := make([]*api.Event, 0, len(reqs))
	for i, req := range reqs {
		if req.EventType == "" {
			return 0, api.NewValidationError("event_type", fmt.Sprintf("must not be empty (event %d)", i))
		}
		events = append(events, newEvent(tenantID, req))
	}

	inserted, err := s.events.InsertBatch(ctx, events)
	if s.obs != nil && inserted > 0 {
		byType := make(map[string]int)
		for _, event := range events[:inserted] {
			byType[event.EventType]++
		}
		for eventType, count := range byType {
			s.obs.EventsTrackedTotal.WithLabelValues(eventType).Add(float64(count))
		}
		s.obs.EventBatchChunks.Add(float64((inserted + batchChunkSize - 1) / batchChunkSize))
	}
	if err != nil {
		return inserted, fmt.Errorf("batch insert stopped after %d events: %w", inserted, err)
	}
	return inserted, nil
}

func newEvent(tenantID string, req TrackEventRequest) *api.Event {
	return &api.Event{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		EventType:  req.EventType,
		EventName:  req.EventName,
		Properties: req.Properties,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		PageURL:    req.PageURL,
		Referrer:   req.Referrer,
		UserAgent:  req.UserAgent,
		IPAddress:  req.IPAddress,
		DeviceInfo: req.DeviceInfo,
		GeoInfo:    req.GeoInfo,
		CreatedAt:  time.Now().UTC(),
	}
}

// QueryEventsResult is a page of events plus paging info
type QueryEventsResult struct {
	Events []*api.Event `json:"events"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// QueryEvents returns a filtered, paginated page of a tenant's events,
// newest first. Limit is clamped to [1, 1000] with a default of 100;
// negative offsets become 0. Results are cached per canonical filter
// serialization, so logically identical filters share an entry.
func (s *Service) QueryEvents(ctx context.Context, tenantID string, filter QueryFilter) (*QueryEventsResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultQueryLimit
	}
	if filter.Limit > maxQueryLimit {
		filter.Limit = maxQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if s.cache == nil {
		return s.queryEvents(ctx, tenantID, filter)
	}

	logicalKey, err := cache.CanonicalKey("analytics:events", filter)
	if err != nil {
		// Unserializable filter: skip the cache rather than fail the read
		return s.queryEvents(ctx, tenantID, filter)
	}
	key := cache.TenantKey(tenantID, logicalKey)

	result := &QueryEventsResult{}
	err = s.cache.Wrap(ctx, key, s.queryTTL, result, func(ctx context.Context) (interface{}, error) {
		return s.queryEvents(ctx, tenantID, filter)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) queryEvents(ctx context.Context, tenantID string, filter QueryFilter) (*QueryEventsResult, error) {
	events, total, err := s.events.Query(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*api.Event{}
	}
	return &QueryEventsResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Period describes the aggregation window of an overview
type Period struct {
	Days      int       `json:"days"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// DashboardOverview is the aggregate snapshot behind the main dashboard.
// TotalEvents is all-time; every other field is scoped to Period.
type DashboardOverview struct {
	TotalEvents int64           `json:"total_events"`
	UniqueUsers int64           `json:"unique_users"`
	EventCounts []TypeCount     `json:"event_counts"`
	DailyTrend  []api.TimePoint `json:"daily_trend"`
	Period      Period          `json:"period"`
}

// GetDashboardOverview computes the dashboard snapshot for a tenant over
// the last days days (default 30). TotalEvents deliberately ignores the
// window while the sub-metrics honor it; clients rely on that split.
// Results are cached per (tenant, days).
func (s *Service) GetDashboardOverview(ctx context.Context, tenantID string, days int) (*DashboardOverview, error) {
	if days <= 0 {
		days = defaultOverviewDays
	}

	if s.cache == nil {
		return s.computeOverview(ctx, tenantID, days)
	}

	key := cache.TenantKey(tenantID, fmt.Sprintf("analytics:overview:%d", days))
	overview := &DashboardOverview{}
	err := s.cache.Wrap(ctx, key, s.overviewTTL, overview, func(ctx context.Context) (interface{}, error) {
		return s.computeOverview(ctx, tenantID, days)
	})
	if err != nil {
		return nil, err
	}
	return overview, nil
}

func (s *Service) computeOverview(ctx context.Context, tenantID string, days int) (*DashboardOverview, error) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -days)

	totalEvents, err := s.events.CountAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	eventCounts, err := s.events.CountByType(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	dailyTrend, err := s.events.DailyCounts(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	uniqueUsers, err := s.events.UniqueUsers(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}

	if eventCounts == nil {
		eventCounts = []TypeCount{}
	}
	if dailyTrend == nil {
		dailyTrend = []api.TimePoint{}
	}

	return &DashboardOverview{
		TotalEvents: totalEvents,
		UniqueUsers: uniqueUsers,
		EventCounts: eventCounts,
		DailyTrend:  dailyTrend,
		Period: Period{
			Days:      days,
			StartDate: since,
			EndDate:   now,
		},
	}, nil
}

// MetricsQuery selects metric rows for GetMetrics
type MetricsQuery struct {
	MetricNames []string        `json:"metric_names"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Granularity api.Granularity `json:"granularity"`
}

// GetMetrics returns rollup rows matching the query, ascending by period
// start, cached per canonical query serialization.
func (s *Service) GetMetrics(ctx context.Context, tenantID string, query MetricsQuery) ([]*api.Metric, error) {
	if query.Granularity == "" {
		query.Granularity = api.GranularityDay
	}
	if !query.Granularity.Valid() {
		return nil, api.NewValidationError("granularity", "must be one of minute, hour, day, week, month")
	}
	if len(query.MetricNames) == 0 {
		return nil, api.NewValidationError("metric_names", "must not be empty")
	}

	if s.cache == nil {
		return s.metricStore.Query(ctx, tenantID, query.MetricNames, query.StartDate, query.EndDate, query.Granularity)
	}

	logicalKey, err := cache.CanonicalKey("analytics:metrics", query)
	if err != nil {
		return s.metricStore.Query(ctx, tenantID, query.MetricNames, query.StartDate, query.EndDate, query.Granularity)
	}
	key := cache.TenantKey(tenantID, logicalKey)

	var metrics []*api.Metric
	err = s.cache.Wrap(ctx, key, s.queryTTL, &metrics, func(ctx context.Context) (interface{}, error) {
		return s.metricStore.Query(ctx, tenantID, query.MetricNames, query.StartDate, query.EndDate, query.Granularity)
	})
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

// MetricSeries returns a single metric's time series within the window.
// Used as input to the insight engine.
func (s *Service) MetricSeries(ctx context.Context, tenantID, name string, start, end time.Time, granularity api.Granularity) ([]api.TimePoint, error) {
	if granularity == "" {
		granularity = api.GranularityDay
	}
	return s.metricStore.Series(ctx, tenantID, name, start, end, granularity)
}
