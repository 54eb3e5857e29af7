package reports

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/api"
)

func sampleDocument() *Document {
	return &Document{
		Title:       "Monthly Report",
		TenantID:    "t-1",
		GeneratedAt: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		Sections: []RenderedSection{
			{
				Type: api.SectionSummary,
				Overview: &analytics.DashboardOverview{
					TotalEvents: 1000,
					UniqueUsers: 42,
					EventCounts: []analytics.TypeCount{{EventType: "page_view", Count: 800}},
				},
			},
			{
				Type:   api.SectionChart,
				Title:  "Daily",
				Series: []api.TimePoint{{Date: "2026-08-30", Value: 12.5}},
			},
			{
				Type:    api.SectionTable,
				Columns: []string{"id", "event_type"},
				Rows:    [][]string{{"e-1", "click"}},
			},
			{Type: api.SectionText, Text: "All good."},
		},
	}
}

func TestRenderJSON(t *testing.T) {
	content, contentType, extension, err := render(sampleDocument(), api.FormatJSON)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if contentType != "application/json" || extension != "json" {
		t.Errorf("Unexpected content type %q / extension %q", contentType, extension)
	}

	round := &Document{}
	if err := json.Unmarshal(content, round); err != nil {
		t.Fatalf("Rendered JSON does not parse: %v", err)
	}
	if round.Sections[0].Overview.TotalEvents != 1000 {
		t.Errorf("Overview did not round-trip: %+v", round.Sections[0].Overview)
	}
	if !round.GeneratedAt.Equal(sampleDocument().GeneratedAt) {
		t.Error("Timestamp lost precision through rendering")
	}
}

func TestRenderCSV(t *testing.T) {
	content, contentType, extension, err := render(sampleDocument(), api.FormatCSV)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if contentType != "text/csv" || extension != "csv" {
		t.Errorf("Unexpected content type %q / extension %q", contentType, extension)
	}

	text := string(content)
	for _, want := range []string{
		"report,Monthly Report",
		"total_events,1000",
		"events.page_view,800",
		"2026-08-30,12.5",
		"e-1,click",
		"text,All good.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected CSV to contain %q\n%s", want, text)
		}
	}
}

func TestRenderExcelFallsBackToCSV(t *testing.T) {
	_, contentType, extension, err := render(sampleDocument(), api.FormatExcel)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if contentType != "text/csv" || extension != "csv" {
		t.Errorf("Expected tabular fallback, got %q / %q", contentType, extension)
	}
}
