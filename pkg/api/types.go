package api

import "time"

// Tenant is the isolation boundary. Every stored row and every query is
// scoped to exactly one tenant.
type Tenant struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Subdomain string           `json:"subdomain"`
	Tier      SubscriptionTier `json:"tier"`
	IsActive  bool             `json:"is_active"`
	Limits    TenantLimits     `json:"limits"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// SubscriptionTier represents a tenant's subscription plan
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierStarter    SubscriptionTier = "starter"
	TierPro        SubscriptionTier = "pro"
	TierEnterprise SubscriptionTier = "enterprise"
)

// TenantLimits holds per-tenant resource limits derived from the tier
type TenantLimits struct {
	MaxUsers           int   `json:"max_users"`
	MaxDashboards      int   `json:"max_dashboards"`
	MaxEventsPerMonth  int64 `json:"max_events_per_month"`
	MaxReportsPerMonth int   `json:"max_reports_per_month"`
	DataRetentionDays  int   `json:"data_retention_days"`
}

// Event is a single tracked analytics event. Events are append-only and
// immutable once created.
type Event struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	EventType  string            `json:"event_type"`
	EventName  string            `json:"event_name,omitempty"`
	Properties map[string]any    `json:"properties,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	PageURL    string            `json:"page_url,omitempty"`
	Referrer   string            `json:"referrer,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	DeviceInfo *DeviceInfo       `json:"device_info,omitempty"`
	GeoInfo    *GeoInfo          `json:"geo_info,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// DeviceInfo holds client device details captured at track time
type DeviceInfo struct {
	Browser  string `json:"browser,omitempty"`
	OS       string `json:"os,omitempty"`
	Device   string `json:"device,omitempty"`
	IsMobile bool   `json:"is_mobile,omitempty"`
}

// GeoInfo holds coarse client location details captured at track time
type GeoInfo struct {
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Granularity is the time-bucket size for a rolled-up metric
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
	GranularityMonth  Granularity = "month"
)

// Valid reports whether g is a known granularity
func (g Granularity) Valid() bool {
	switch g {
	case GranularityMinute, GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// Metric is a pre-aggregated numeric rollup for a tenant, written by rollup
// jobs and read by the aggregator.
type Metric struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	MetricName  string            `json:"metric_name"`
	Value       float64           `json:"value"`
	Granularity Granularity       `json:"granularity"`
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
	Dimensions  map[string]string `json:"dimensions,omitempty"`
	Metadata    *MetricMetadata   `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// MetricMetadata carries the aggregate statistics behind a rollup value
type MetricMetadata struct {
	Count int64   `json:"count,omitempty"`
	Sum   float64 `json:"sum,omitempty"`
	Avg   float64 `json:"avg,omitempty"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
}

// ReportFormat is the output format of a generated report
type ReportFormat string

const (
	FormatPDF   ReportFormat = "pdf"
	FormatExcel ReportFormat = "excel"
	FormatCSV   ReportFormat = "csv"
	FormatJSON  ReportFormat = "json"
)

// Valid reports whether f is a known report format
func (f ReportFormat) Valid() bool {
	switch f {
	case FormatPDF, FormatExcel, FormatCSV, FormatJSON:
		return true
	}
	return false
}

// SectionType discriminates report section variants
type SectionType string

const (
	SectionSummary SectionType = "summary"
	SectionChart   SectionType = "chart"
	SectionTable   SectionType = "table"
	SectionText    SectionType = "text"
)

// ReportSection is a tagged union keyed by Type. Only the fields relevant
// to the section's type are populated.
type ReportSection struct {
	Type  SectionType `json:"type"`
	Title string      `json:"title,omitempty"`

	// summary and chart sections pull from a data source
	DataSource *DataSource `json:"data_source,omitempty"`

	// chart sections
	ChartKind string `json:"chart_kind,omitempty"` // line, bar, pie

	// table sections
	Columns []string `json:"columns,omitempty"`

	// text sections
	Body string `json:"body,omitempty"`
}

// DataSource describes where a report section gets its data
type DataSource struct {
	Type        string   `json:"type"` // events, metrics, dashboard
	MetricNames []string `json:"metric_names,omitempty"`
	EventType   string   `json:"event_type,omitempty"`
	DashboardID string   `json:"dashboard_id,omitempty"`
	Days        int      `json:"days,omitempty"`
}

// ReportConfig is the stored configuration of a report template
type ReportConfig struct {
	Title    string          `json:"title"`
	Sections []ReportSection `json:"sections"`
}

// ReportTemplate is a tenant-owned, reusable report definition
type ReportTemplate struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	CreatedBy     string       `json:"created_by"`
	Config        ReportConfig `json:"config"`
	DefaultFormat ReportFormat `json:"default_format"`
	IsActive      bool         `json:"is_active"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// RunStatus is the lifecycle state of a report run. Transitions are
// one-directional: pending -> processing -> completed|failed.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the status is an end state
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ReportRun tracks one execution of report generation. Created on
// generate-request, mutated only by the processor.
type ReportRun struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	TemplateID   string       `json:"template_id"`
	Status       RunStatus    `json:"status"`
	Format       ReportFormat `json:"format"`
	OutputURL    string       `json:"output_url,omitempty"`
	FileName     string       `json:"file_name,omitempty"`
	FileSize     int64        `json:"file_size,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	RequestedBy  string       `json:"requested_by"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ScheduledReport triggers report generation on a cron schedule
type ScheduledReport struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	TemplateID     string       `json:"template_id"`
	Name           string       `json:"name"`
	CronExpression string       `json:"cron_expression"`
	Timezone       string       `json:"timezone,omitempty"`
	Format         ReportFormat `json:"format"`
	Recipients     []string     `json:"recipients"`
	IsActive       bool         `json:"is_active"`
	LastRunAt      *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time   `json:"next_run_at,omitempty"`
	CreatedBy      string       `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Dashboard is a tenant-owned collection of widgets
type Dashboard struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	IsShared    bool      `json:"is_shared"`
	Widgets     []Widget  `json:"widgets,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Widget is a single visualization on a dashboard
type Widget struct {
	ID          string         `json:"id"`
	DashboardID string         `json:"dashboard_id"`
	Title       string         `json:"title"`
	WidgetType  string         `json:"widget_type"` // counter, line_chart, bar_chart, table
	Query       map[string]any `json:"query,omitempty"`
	Position    WidgetPosition `json:"position"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WidgetPosition is the widget's grid placement
type WidgetPosition struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// TimePoint is a single (date, value) observation in a time series
type TimePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}
