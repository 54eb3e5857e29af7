package insights

import (
	"testing"

	"github.com/pulsedeck/pulsedeck/pkg/api"
)

func points(values ...float64) []api.TimePoint {
	series := make([]api.TimePoint, len(values))
	for i, v := range values {
		series[i] = api.TimePoint{Date: "2026-08-01", Value: v}
	}
	return series
}

func TestAnalyzeTrendInsufficientData(t *testing.T) {
	for _, series := range [][]api.TimePoint{nil, points(5)} {
		result := AnalyzeTrend(series)
		if result.Trend != TrendInsufficientData {
			t.Errorf("trend = %q, want %q", result.Trend, TrendInsufficientData)
		}
		if result.ChangePercent != 0 {
			t.Errorf("changePercent = %v, want 0", result.ChangePercent)
		}
	}
}

func TestAnalyzeTrendClassification(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		wantTrend  TrendDirection
		wantChange float64
	}{
		{"doubling is strong growth", []float64{10, 10, 20, 20}, TrendStrongGrowth, 100},
		{"small rise is moderate growth", []float64{100, 100, 105, 105}, TrendModerateGrowth, 5},
		{"flat series is stable", []float64{50, 50, 50, 50}, TrendStable, 0},
		{"small drop is moderate decline", []float64{100, 100, 95, 95}, TrendModerateDecline, -5},
		{"halving is strong decline", []float64{20, 20, 10, 10}, TrendStrongDecline, -50},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := AnalyzeTrend(points(tc.values...))
			if result.Trend != tc.wantTrend {
				t.Errorf("trend = %q, want %q", result.Trend, tc.wantTrend)
			}
			if result.ChangePercent != tc.wantChange {
				t.Errorf("changePercent = %v, want %v", result.ChangePercent, tc.wantChange)
			}
			if result.Summary == "" {
				t.Error("summary should not be empty")
			}
		})
	}
}

func TestAnalyzeTrendOddLengthHalves(t *testing.T) {
	// First half is floor(5/2)=2 points, second half the remaining 3.
	result := AnalyzeTrend(points(10, 10, 20, 20, 20))
	if result.FirstHalfMean != 10 {
		t.Errorf("firstHalfMean = %v, want 10", result.FirstHalfMean)
	}
	if result.SecondHalfMean != 20 {
		t.Errorf("secondHalfMean = %v, want 20", result.SecondHalfMean)
	}
	if result.ChangePercent != 100 {
		t.Errorf("changePercent = %v, want 100", result.ChangePercent)
	}
}

func TestAnalyzeTrendRoundsChangePercent(t *testing.T) {
	result := AnalyzeTrend(points(3, 3, 4, 4))
	if result.ChangePercent != 33.33 {
		t.Errorf("changePercent = %v, want 33.33", result.ChangePercent)
	}
}

func TestAnalyzeTrendZeroBaseline(t *testing.T) {
	result := AnalyzeTrend(points(0, 0, 10, 10))
	if result.Trend != TrendStrongGrowth {
		t.Errorf("trend = %q, want %q", result.Trend, TrendStrongGrowth)
	}
	if result.ChangePercent != 100 {
		t.Errorf("changePercent = %v, want 100", result.ChangePercent)
	}
}
