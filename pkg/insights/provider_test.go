package insights

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/config"
)

func TestMockProviderIsDeterministic(t *testing.T) {
	ctx := context.Background()
	data := map[string]interface{}{"total_events": 1200, "unique_users": 40}

	first, err := MockProvider{}.Analyze(ctx, data, "what happens next week?")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	second, _ := MockProvider{}.Analyze(ctx, data, "what happens next week?")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same input produced different predictions: %+v vs %+v", first, second)
	}
	if first.Confidence < 0.6 || first.Confidence > 0.9 {
		t.Errorf("confidence = %v, want within [0.6, 0.9]", first.Confidence)
	}
}

func TestMockProviderForecast(t *testing.T) {
	series := points(10, 12, 14, 16, 18, 20)
	for i := range series {
		series[i].Date = time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	}

	forecast, err := MockProvider{}.Forecast(context.Background(), series, 5)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if len(forecast.Points) != 5 {
		t.Fatalf("points = %d, want 5", len(forecast.Points))
	}
	if forecast.Points[0].Date != "2026-08-07" {
		t.Errorf("first forecast date = %q, want day after series end", forecast.Points[0].Date)
	}
	if forecast.Trend != TrendStrongGrowth {
		t.Errorf("trend = %q, want %q", forecast.Trend, TrendStrongGrowth)
	}
	for _, p := range forecast.Points {
		if p.Lower > p.Value || p.Value > p.Upper {
			t.Errorf("point %s band [%v, %v] does not contain value %v", p.Date, p.Lower, p.Upper, p.Value)
		}
	}

	again, _ := MockProvider{}.Forecast(context.Background(), series, 5)
	if !reflect.DeepEqual(forecast.Points, again.Points) {
		t.Error("same series produced different forecasts")
	}
}

func TestNewHTTPProviderRequiresCredentials(t *testing.T) {
	if p := NewHTTPProvider(config.InsightsConfig{ProviderURL: "https://example.com"}); p != nil {
		t.Error("provider without API key should be nil")
	}
	if p := NewHTTPProvider(config.InsightsConfig{ProviderAPIKey: "sk-test"}); p != nil {
		t.Error("provider without URL should be nil")
	}
}

func TestHTTPProviderAnalyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(req.Messages))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{
					"role":    "assistant",
					"content": `{"prediction":"steady growth","confidence":0.8,"insights":["volume up"]}`,
				}},
			},
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(config.InsightsConfig{
		ProviderURL:    server.URL,
		ProviderAPIKey: "sk-test",
		ProviderModel:  "test-model",
		Timeout:        time.Second,
	})
	prediction, err := provider.Analyze(context.Background(), map[string]interface{}{"k": 1}, "analyze this")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if prediction.Prediction != "steady growth" || prediction.Confidence != 0.8 {
		t.Errorf("unexpected prediction: %+v", prediction)
	}
}

func TestHTTPProviderSurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewHTTPProvider(config.InsightsConfig{
		ProviderURL:    server.URL,
		ProviderAPIKey: "sk-test",
		Timeout:        time.Second,
	})
	if _, err := provider.Analyze(context.Background(), nil, "analyze"); err == nil {
		t.Error("expected error for non-200 response")
	}
}
