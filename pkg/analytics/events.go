// Package analytics implements event tracking, the pre-aggregated metric
// store, and the cache-wrapped dashboard aggregation layer.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/api"
)

// batchChunkSize bounds a single multi-row insert. Chunking is a throughput
// concern only; there is no atomicity guarantee across chunks.
const batchChunkSize = 100

// EventStore persists tracked events in PostgreSQL. Events are append-only;
// there is no update path.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new event store
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// QueryFilter selects events within a tenant. Zero values mean "no filter".
type QueryFilter struct {
	EventType string     `json:"event_type,omitempty"`
	EventName string     `json:"event_name,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// TypeCount is an event count grouped by event type
type TypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// Insert stores a single event
func (s *EventStore) Insert(ctx context.Context, event *api.Event) error {
	propsJSON, deviceJSON, geoJSON, err := marshalEventJSON(event)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (
			id, tenant_id, event_type, event_name, properties,
			user_id, session_id, page_url, referrer, user_agent, ip_address,
			device_info, geo_info, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.TenantID, event.EventType, nullString(event.EventName), propsJSON,
		nullString(event.UserID), nullString(event.SessionID), nullString(event.PageURL),
		nullString(event.Referrer), nullString(event.UserAgent), nullString(event.IPAddress),
		deviceJSON, geoJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertBatch stores events in chunks of at most batchChunkSize rows per
// statement. Chunks are independent: a failing chunk does not roll back the
// ones already written. Returns the number of events actually inserted.
func (s *EventStore) InsertBatch(ctx context.Context, events []*api.Event) (int, error) {
	inserted := 0
	for start := 0; start < len(events); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(events) {
			end = len(events)
		}
		if err := s.insertChunk(ctx, events[start:end]); err != nil {
			return inserted, err
		}
		inserted += end - start
	}
	return inserted, nil
}

func (s *EventStore) insertChunk(ctx context.Context, events []*api.Event) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 14
	placeholders := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, event := range events {
		propsJSON, deviceJSON, geoJSON, err := marshalEventJSON(event)
		if err != nil {
			return err
		}

		base := i * cols
		group := make([]string, cols)
		for j := range group {
			group[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(group, ", ")+")")

		args = append(args,
			event.ID, event.TenantID, event.EventType, nullString(event.EventName), propsJSON,
			nullString(event.UserID), nullString(event.SessionID), nullString(event.PageURL),
			nullString(event.Referrer), nullString(event.UserAgent), nullString(event.IPAddress),
			deviceJSON, geoJSON, event.CreatedAt,
		)
	}

	query := `
		INSERT INTO events (
			id, tenant_id, event_type, event_name, properties,
			user_id, session_id, page_url, referrer, user_agent, ip_address,
			device_info, geo_info, created_at
		) VALUES ` + strings.Join(placeholders, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert event batch: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first, plus the total
// count of matching rows ignoring limit/offset.
func (s *EventStore) Query(ctx context.Context, tenantID string, filter QueryFilter) ([]*api.Event, int64, error) {
	where, args := buildEventWhere(tenantID, filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM events ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, event_type, event_name, properties,
			user_id, session_id, page_url, referrer, user_agent, ip_address,
			device_info, geo_info, created_at
		FROM events
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*api.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

// CountAll returns the all-time event count for a tenant
func (s *EventStore) CountAll(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE tenant_id = $1`, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountByType returns per-type event counts within the window [since, now)
func (s *EventStore) CountByType(ctx context.Context, tenantID string, since time.Time) ([]TypeCount, error) {
	query := `
		SELECT event_type, COUNT(*) AS count
		FROM events
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY event_type
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.EventType, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

// DailyCounts returns per-day event counts within the window, ascending by
// date. Days with zero events are absent, not zero-filled.
func (s *EventStore) DailyCounts(ctx context.Context, tenantID string, since time.Time) ([]api.TimePoint, error) {
	query := `
		SELECT DATE(created_at) AS day, COUNT(*) AS count
		FROM events
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY DATE(created_at)
		ORDER BY day ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily events: %w", err)
	}
	defer rows.Close()

	var points []api.TimePoint
	for rows.Next() {
		var day time.Time
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		points = append(points, api.TimePoint{
			Date:  day.Format("2006-01-02"),
			Value: float64(count),
		})
	}
	return points, rows.Err()
}

// UniqueUsers returns the count of distinct non-null user IDs in the window
func (s *EventStore) UniqueUsers(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM events
		WHERE tenant_id = $1 AND created_at >= $2 AND user_id IS NOT NULL
	`, tenantID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unique users: %w", err)
	}
	return count, nil
}

// buildEventWhere assembles the WHERE clause shared by Query and its count.
// tenant_id is always the first condition.
func buildEventWhere(tenantID string, filter QueryFilter) (string, []interface{}) {
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	add := func(condition string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.EventName != "" {
		add("event_name = $%d", filter.EventName)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func marshalEventJSON(event *api.Event) ([]byte, []byte, []byte, error) {
	var propsJSON, deviceJSON, geoJSON []byte
	var err error

	if event.Properties != nil {
		if propsJSON, err = json.Marshal(event.Properties); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal event properties: %w", err)
		}
	}
	if event.DeviceInfo != nil {
		if deviceJSON, err = json.Marshal(event.DeviceInfo); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal device info: %w", err)
		}
	}
	if event.GeoInfo != nil {
		if geoJSON, err = json.Marshal(event.GeoInfo); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal geo info: %w", err)
		}
	}
	return propsJSON, deviceJSON, geoJSON, nil
}

func scanEvent(rows *sql.Rows) (*api.Event, error) {
	event := &api.Event{}
	var eventName, userID, sessionID, pageURL, referrer, userAgent, ipAddress sql.NullString
	var propsJSON, deviceJSON, geoJSON []byte

	err := rows.Scan(
		&event.ID, &event.TenantID, &event.EventType, &eventName, &propsJSON,
		&userID, &sessionID, &pageURL, &referrer, &userAgent, &ipAddress,
		&deviceJSON, &geoJSON, &event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.EventName = eventName.String
	event.UserID = userID.String
	event.SessionID = sessionID.String
	event.PageURL = pageURL.String
	event.Referrer = referrer.String
	event.UserAgent = userAgent.String
	event.IPAddress = ipAddress.String

	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &event.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event properties: %w", err)
		}
	}
	if len(deviceJSON) > 0 {
		event.DeviceInfo = &api.DeviceInfo{}
		if err := json.Unmarshal(deviceJSON, event.DeviceInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device info: %w", err)
		}
	}
	if len(geoJSON) > 0 {
		event.GeoInfo = &api.GeoInfo{}
		if err := json.Unmarshal(geoJSON, event.GeoInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal geo info: %w", err)
		}
	}
	return event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
