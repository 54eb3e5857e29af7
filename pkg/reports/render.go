package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/analytics"
	"github.com/pulsedeck/pulsedeck/pkg/api"
)

// Document is a fully resolved report: every section's data has been
// queried and attached. Rendering only formats, it never fetches.
type Document struct {
	Title       string            `json:"title"`
	TenantID    string            `json:"tenant_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Sections    []RenderedSection `json:"sections"`
}

// RenderedSection carries the resolved data of one template section
type RenderedSection struct {
	Type     api.SectionType               `json:"type"`
	Title    string                        `json:"title,omitempty"`
	Text     string                        `json:"text,omitempty"`
	Overview *analytics.DashboardOverview  `json:"overview,omitempty"`
	Series   []api.TimePoint               `json:"series,omitempty"`
	Columns  []string                      `json:"columns,omitempty"`
	Rows     [][]string                    `json:"rows,omitempty"`
}

// render formats a document. JSON and PDF requests emit the JSON document;
// CSV and Excel requests emit tabular CSV. Binary rendering fidelity is a
// presentation concern handled downstream; the artifact always carries the
// full resolved data.
func render(doc *Document, format api.ReportFormat) (content []byte, contentType, extension string, err error) {
	switch format {
	case api.FormatCSV, api.FormatExcel:
		content, err = renderCSV(doc)
		return content, "text/csv", "csv", err
	default:
		content, err = json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to render report document: %w", err)
		}
		return content, "application/json", "json", nil
	}
}

// renderCSV flattens every section into one CSV stream, sections separated
// by a heading row.
func renderCSV(doc *Document) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	write := func(record ...string) error {
		return w.Write(record)
	}

	if err := write("report", doc.Title, doc.GeneratedAt.Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}

	for _, section := range doc.Sections {
		if err := write(""); err != nil {
			return nil, fmt.Errorf("failed to write csv: %w", err)
		}
		if err := write("section", string(section.Type), section.Title); err != nil {
			return nil, fmt.Errorf("failed to write csv: %w", err)
		}

		switch section.Type {
		case api.SectionText:
			if err := write("text", section.Text); err != nil {
				return nil, fmt.Errorf("failed to write csv: %w", err)
			}
		case api.SectionSummary:
			if section.Overview != nil {
				o := section.Overview
				rows := [][]string{
					{"total_events", strconv.FormatInt(o.TotalEvents, 10)},
					{"unique_users", strconv.FormatInt(o.UniqueUsers, 10)},
				}
				for _, tc := range o.EventCounts {
					rows = append(rows, []string{"events." + tc.EventType, strconv.FormatInt(tc.Count, 10)})
				}
				for _, row := range rows {
					if err := write(row...); err != nil {
						return nil, fmt.Errorf("failed to write csv: %w", err)
					}
				}
			}
		case api.SectionChart:
			if err := write("date", "value"); err != nil {
				return nil, fmt.Errorf("failed to write csv: %w", err)
			}
			for _, point := range section.Series {
				if err := write(point.Date, strconv.FormatFloat(point.Value, 'f', -1, 64)); err != nil {
					return nil, fmt.Errorf("failed to write csv: %w", err)
				}
			}
		case api.SectionTable:
			if len(section.Columns) > 0 {
				if err := write(section.Columns...); err != nil {
					return nil, fmt.Errorf("failed to write csv: %w", err)
				}
			}
			for _, row := range section.Rows {
				if err := write(row...); err != nil {
					return nil, fmt.Errorf("failed to write csv: %w", err)
				}
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
