// Package insights implements the stateless forecast and trend engine:
// statistical trend and anomaly analysis over caller-supplied time series,
// plus provider-backed predictions with a deterministic local fallback.
package insights

import (
	"fmt"
	"math"

	"github.com/pulsedeck/pulsedeck/pkg/api"
)

// TrendDirection classifies the movement of a series
type TrendDirection string

const (
	TrendInsufficientData TrendDirection = "insufficient_data"
	TrendStrongGrowth     TrendDirection = "strong_growth"
	TrendModerateGrowth   TrendDirection = "moderate_growth"
	TrendStable           TrendDirection = "stable"
	TrendModerateDecline  TrendDirection = "moderate_decline"
	TrendStrongDecline    TrendDirection = "strong_decline"
)

// TrendAnalysis is the result of comparing the two halves of a series
type TrendAnalysis struct {
	Trend          TrendDirection `json:"trend"`
	ChangePercent  float64        `json:"change_percent"`
	Summary        string         `json:"summary"`
	FirstHalfMean  float64        `json:"first_half_mean"`
	SecondHalfMean float64        `json:"second_half_mean"`
}

// AnalyzeTrend splits the series into two contiguous halves (first
// floor(n/2) points, remainder second), compares their means, and
// classifies the percentage change. Fewer than two points yields the
// insufficient_data sentinel with a zero change.
func AnalyzeTrend(series []api.TimePoint) *TrendAnalysis {
	if len(series) < 2 {
		return &TrendAnalysis{
			Trend:         TrendInsufficientData,
			ChangePercent: 0,
			Summary:       "Not enough data points to analyze a trend",
		}
	}

	mid := len(series) / 2
	firstMean := mean(series[:mid])
	secondMean := mean(series[mid:])

	var changePercent float64
	switch {
	case firstMean != 0:
		changePercent = (secondMean - firstMean) / firstMean * 100
	case secondMean != 0:
		// Growth from nothing; treat as a full swing in the sign of the
		// second half rather than dividing by zero.
		changePercent = math.Copysign(100, secondMean)
	}
	changePercent = math.Round(changePercent*100) / 100

	trend := classifyTrend(changePercent)
	return &TrendAnalysis{
		Trend:          trend,
		ChangePercent:  changePercent,
		Summary:        trendSummary(trend, changePercent),
		FirstHalfMean:  firstMean,
		SecondHalfMean: secondMean,
	}
}

// classifyTrend applies the fixed thresholds in order
func classifyTrend(changePercent float64) TrendDirection {
	switch {
	case changePercent > 10:
		return TrendStrongGrowth
	case changePercent > 2:
		return TrendModerateGrowth
	case changePercent > -2:
		return TrendStable
	case changePercent > -10:
		return TrendModerateDecline
	default:
		return TrendStrongDecline
	}
}

func trendSummary(trend TrendDirection, changePercent float64) string {
	abs := math.Abs(changePercent)
	switch trend {
	case TrendStrongGrowth:
		return fmt.Sprintf("Strong growth of %.1f%% over the period", abs)
	case TrendModerateGrowth:
		return fmt.Sprintf("Moderate growth of %.1f%% over the period", abs)
	case TrendStable:
		return fmt.Sprintf("Values are stable with a %.1f%% change", abs)
	case TrendModerateDecline:
		return fmt.Sprintf("Moderate decline of %.1f%% over the period", abs)
	default:
		return fmt.Sprintf("Strong decline of %.1f%% over the period", abs)
	}
}

func mean(points []api.TimePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}
