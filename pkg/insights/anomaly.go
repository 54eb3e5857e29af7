package insights

import (
	"math"

	"github.com/pulsedeck/pulsedeck/pkg/api"
)

// Anomaly is a single point whose distance from the series mean
// exceeds two population standard deviations.
type Anomaly struct {
	Index     int     `json:"index"`
	Date      string  `json:"date"`
	Value     float64 `json:"value"`
	Deviation float64 `json:"deviation"`
	Severity  string  `json:"severity"`
	Reason    string  `json:"reason"`
}

// AnomalyReport carries the detected anomalies together with the
// statistics they were judged against.
type AnomalyReport struct {
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"std_dev"`
	Threshold float64   `json:"threshold"`
	Anomalies []Anomaly `json:"anomalies"`
}

// DetectAnomalies flags points more than two population standard
// deviations from the series mean. A constant series has zero
// deviation and therefore no anomalies.
func DetectAnomalies(series []api.TimePoint) *AnomalyReport {
	report := &AnomalyReport{Anomalies: []Anomaly{}}
	if len(series) == 0 {
		return report
	}

	m := mean(series)
	variance := 0.0
	for _, p := range series {
		d := p.Value - m
		variance += d * d
	}
	variance /= float64(len(series))
	stdDev := math.Sqrt(variance)

	report.Mean = m
	report.StdDev = stdDev
	report.Threshold = m + 2*stdDev
	if stdDev == 0 {
		return report
	}

	for i, p := range series {
		deviation := math.Abs(p.Value-m) / stdDev
		if deviation <= 2 {
			continue
		}
		reason := "Unusually high value"
		if p.Value < m {
			reason = "Unusually low value"
		}
		report.Anomalies = append(report.Anomalies, Anomaly{
			Index:     i,
			Date:      p.Date,
			Value:     p.Value,
			Deviation: deviation,
			Severity:  anomalySeverity(deviation),
			Reason:    reason,
		})
	}
	return report
}

func anomalySeverity(deviation float64) string {
	switch {
	case deviation > 3:
		return "high"
	case deviation > 2.5:
		return "medium"
	default:
		return "low"
	}
}
