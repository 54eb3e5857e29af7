package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/pulsedeck/pulsedeck/pkg/api"
	"github.com/pulsedeck/pulsedeck/pkg/config"
)

// Prediction is a natural-language analysis of a metric snapshot
type Prediction struct {
	Prediction string   `json:"prediction"`
	Confidence float64  `json:"confidence"`
	Insights   []string `json:"insights"`
}

// ForecastPoint is one projected value with a confidence band
type ForecastPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Forecast projects a series forward a fixed number of periods
type Forecast struct {
	Points []ForecastPoint `json:"points"`
	Trend  TrendDirection  `json:"trend"`
}

// Provider produces predictions and forecasts. Implementations must be
// safe for concurrent use.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, data map[string]interface{}, prompt string) (*Prediction, error)
	Forecast(ctx context.Context, series []api.TimePoint, periods int) (*Forecast, error)
}

// HTTPProvider calls an external chat-completions endpoint and expects
// the model to reply with a single JSON object.
type HTTPProvider struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewHTTPProvider returns nil when no endpoint or key is configured so
// callers can fall back to the local provider.
func NewHTTPProvider(cfg config.InsightsConfig) *HTTPProvider {
	if cfg.ProviderURL == "" || cfg.ProviderAPIKey == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := cfg.ProviderModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &HTTPProvider{
		url:    cfg.ProviderURL,
		apiKey: cfg.ProviderAPIKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return "http" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *HTTPProvider) Analyze(ctx context.Context, data map[string]interface{}, prompt string) (*Prediction, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis data: %w", err)
	}
	system := "You are an analytics assistant. Reply with a single JSON object with keys " +
		`"prediction" (string), "confidence" (number between 0 and 1) and "insights" (array of strings).`
	user := fmt.Sprintf("%s\n\nData:\n%s", prompt, payload)

	var prediction Prediction
	if err := p.complete(ctx, system, user, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

func (p *HTTPProvider) Forecast(ctx context.Context, series []api.TimePoint, periods int) (*Forecast, error) {
	payload, err := json.Marshal(series)
	if err != nil {
		return nil, fmt.Errorf("failed to encode series: %w", err)
	}
	system := "You are a time series forecaster. Reply with a single JSON object with keys " +
		`"points" (array of {date, value, lower, upper}) and "trend" (string).`
	user := fmt.Sprintf("Forecast the next %d daily values for this series:\n%s", periods, payload)

	var forecast Forecast
	if err := p.complete(ctx, system, user, &forecast); err != nil {
		return nil, err
	}
	return &forecast, nil
}

func (p *HTTPProvider) complete(ctx context.Context, system, user string, out interface{}) error {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("completion request returned status %d", resp.StatusCode)
	}

	var completion chatResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return fmt.Errorf("failed to decode completion envelope: %w", err)
	}
	if len(completion.Choices) == 0 {
		return fmt.Errorf("completion response contained no choices")
	}
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("failed to decode completion content: %w", err)
	}
	return nil
}

// MockProvider produces deterministic local predictions. The same
// inputs always yield the same outputs because the generator is seeded
// from a hash of the inputs rather than the clock.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) Analyze(_ context.Context, data map[string]interface{}, prompt string) (*Prediction, error) {
	payload, _ := json.Marshal(data)
	rng := seededRand(append(payload, prompt...))

	confidence := math.Round((0.6+rng.Float64()*0.3)*100) / 100
	templates := []string{
		"Metrics are expected to continue their current trajectory over the next period",
		"Activity is likely to hold near recent levels with normal day-to-day variation",
		"Current usage patterns suggest gradual change rather than a sharp shift",
	}
	insights := []string{
		"Based on the provided metric snapshot",
		fmt.Sprintf("Confidence derived from %d tracked fields", len(data)),
	}
	return &Prediction{
		Prediction: templates[rng.Intn(len(templates))],
		Confidence: confidence,
		Insights:   insights,
	}, nil
}

func (MockProvider) Forecast(_ context.Context, series []api.TimePoint, periods int) (*Forecast, error) {
	if periods <= 0 {
		periods = 7
	}
	payload, _ := json.Marshal(series)
	rng := seededRand(payload)

	base, slope := linearFit(series)
	last := time.Now().UTC()
	if len(series) > 0 {
		if t, err := time.Parse("2006-01-02", series[len(series)-1].Date); err == nil {
			last = t
		}
	}

	points := make([]ForecastPoint, 0, periods)
	for i := 1; i <= periods; i++ {
		value := base + slope*float64(i)
		// Small deterministic jitter keeps the projection from looking
		// like a ruler without changing its direction.
		value += value * (rng.Float64() - 0.5) * 0.04
		if value < 0 {
			value = 0
		}
		value = math.Round(value*100) / 100
		band := math.Abs(value) * 0.1 * (1 + float64(i)/float64(periods))
		points = append(points, ForecastPoint{
			Date:  last.AddDate(0, 0, i).Format("2006-01-02"),
			Value: value,
			Lower: math.Max(0, math.Round((value-band)*100)/100),
			Upper: math.Round((value+band)*100) / 100,
		})
	}

	return &Forecast{
		Points: points,
		Trend:  AnalyzeTrend(series).Trend,
	}, nil
}

func seededRand(material []byte) *rand.Rand {
	h := fnv.New64a()
	h.Write(material)
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// linearFit returns the level at the end of the series and the per-step
// slope of a least-squares line through it.
func linearFit(series []api.TimePoint) (base, slope float64) {
	n := len(series)
	if n == 0 {
		return 0, 0
	}
	if n == 1 {
		return series[0].Value, 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, p := range series {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return sumY / fn, 0
	}
	slope = (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn
	base = intercept + slope*float64(n-1)
	return base, slope
}
