package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/agro-weather/internal/weather"
)

// countingServer serves body with status and records how many requests hit it.
func countingServer(t *testing.T, status int, body string, check func(r *http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

const openMeteoForecastBody = `{
	"utc_offset_seconds": 7200,
	"hourly": {
		"time": ["2026-10-15T00:00", "2026-10-15T12:00"],
		"temperature_2m": [10, null],
		"relative_humidity_2m": [80, 55],
		"precipitation": [0, 2.5],
		"snowfall": [0.5, null],
		"weather_code": [0, 61],
		"wind_speed_10m": [3, 4]
	}
}`

func TestOpenMeteoForecast(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, openMeteoForecastBody, func(r *http.Request) {
		if r.URL.Path != "/forecast" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("forecast_days"); got != "2" {
			t.Errorf("expected forecast_days=2, got %q", got)
		}
		if got := r.URL.Query().Get("wind_speed_unit"); got != "ms" {
			t.Errorf("expected wind_speed_unit=ms, got %q", got)
		}
	})

	p := NewOpenMeteoProvider(weather.ProviderDescriptor{Name: "om", BaseURL: srv.URL}, srv.Client())
	obs, err := p.Forecast(context.Background(), 42.7, 23.3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}

	first, second := obs[0], obs[1]
	if first.Provider != "om" || first.DataType != weather.DataTypeForecast {
		t.Fatalf("unexpected provenance: %s %s", first.Provider, first.DataType)
	}
	if !approx(first.Snow, 5) {
		t.Errorf("expected snowfall converted to 5mm, got %v", first.Snow)
	}
	if first.Condition != weather.ConditionClear || first.Description != "Clear sky" {
		t.Errorf("unexpected condition %q / %q", first.Condition, first.Description)
	}
	if first.QualityScore != 100 {
		t.Errorf("expected full quality, got %d", first.QualityScore)
	}

	if second.Hour == nil || *second.Hour != 12 {
		t.Fatalf("expected hour 12, got %v", second.Hour)
	}
	if want := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC); !second.Date.Equal(want) {
		t.Errorf("expected date %s, got %s", want, second.Date)
	}
	if _, offset := second.Timestamp.Zone(); offset != 7200 {
		t.Errorf("expected provider offset 7200, got %d", offset)
	}
	if second.Condition != weather.ConditionRain || !approx(second.Rainfall, 2.5) {
		t.Errorf("unexpected rain sample: %q %v", second.Condition, second.Rainfall)
	}
	// Missing temperature inside a present block costs 20 points.
	if second.QualityScore != 80 {
		t.Errorf("expected quality 80, got %d", second.QualityScore)
	}
	if len(second.Raw) == 0 {
		t.Error("expected raw payload to be kept")
	}
}

func TestOpenMeteoRejectsBadHorizon(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, openMeteoForecastBody, nil)
	p := NewOpenMeteoProvider(weather.ProviderDescriptor{Name: "om", BaseURL: srv.URL}, srv.Client())

	for _, days := range []int{0, 17} {
		if _, err := p.Forecast(context.Background(), 42.7, 23.3, days); err == nil {
			t.Errorf("expected error for %d days", days)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no requests, got %d", hits.Load())
	}
}

func TestOpenMeteoCurrent(t *testing.T) {
	body := `{"utc_offset_seconds": 0, "current": {
		"time": "2026-10-15T09:00", "temperature_2m": 18.2, "relative_humidity_2m": 64,
		"weather_code": 3, "wind_speed_10m": 2.1, "snowfall": 0}}`
	srv, _ := countingServer(t, http.StatusOK, body, nil)

	p := NewOpenMeteoProvider(weather.ProviderDescriptor{Name: "om", BaseURL: srv.URL}, srv.Client())
	o, err := p.Current(context.Background(), 42.7, 23.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.DataType != weather.DataTypeCurrent || o.Condition != weather.ConditionCloudy {
		t.Fatalf("unexpected observation: %s %s", o.DataType, o.Condition)
	}
	if o.Hour == nil || *o.Hour != 9 {
		t.Fatalf("expected hour 9, got %v", o.Hour)
	}
	if !approx(o.FeelsLike, 18.2) {
		t.Errorf("expected feels-like to fall back to temperature, got %v", o.FeelsLike)
	}
}

func TestOpenMeteoMissingHourlyBlock(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK, `{"utc_offset_seconds": 0}`, nil)
	p := NewOpenMeteoProvider(weather.ProviderDescriptor{Name: "om", BaseURL: srv.URL}, srv.Client())

	_, err := p.Forecast(context.Background(), 42.7, 23.3, 1)
	if !errors.Is(err, weather.ErrProviderData) {
		t.Fatalf("expected ErrProviderData, got %v", err)
	}
}

func TestOpenWeatherCurrent(t *testing.T) {
	const dt = 1760529600
	body := fmt.Sprintf(`{
		"dt": %d, "timezone": 0,
		"main": {"temp": 21.5, "feels_like": 21, "humidity": 60, "pressure": 1012},
		"wind": {"speed": 3.4, "deg": 180},
		"rain": {"1h": 1.2},
		"weather": [{"main": "Rain", "description": "light rain", "icon": "10d"}]
	}`, dt)
	srv, _ := countingServer(t, http.StatusOK, body, func(r *http.Request) {
		if r.URL.Path != "/weather" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("appid") != "secret" || r.URL.Query().Get("units") != "metric" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
	})

	p := NewOpenWeatherProvider(weather.ProviderDescriptor{Name: "ow", BaseURL: srv.URL}, srv.Client(), "secret")
	o, err := p.Current(context.Background(), 42.7, 23.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.DataType != weather.DataTypeCurrent || o.Condition != weather.ConditionRain {
		t.Fatalf("unexpected observation: %s %s", o.DataType, o.Condition)
	}
	if !approx(o.Temperature, 21.5) || !approx(o.Rainfall, 1.2) || !approx(o.WindSpeed, 3.4) {
		t.Errorf("unexpected values: temp=%v rain=%v wind=%v", o.Temperature, o.Rainfall, o.WindSpeed)
	}
	if want := time.Unix(dt, 0).UTC().Hour(); o.Hour == nil || *o.Hour != want {
		t.Errorf("expected hour %d, got %v", want, o.Hour)
	}
	if o.Description != "light rain" || o.Icon != "10d" {
		t.Errorf("unexpected description %q icon %q", o.Description, o.Icon)
	}
	if o.QualityScore != 100 {
		t.Errorf("expected quality 100, got %d", o.QualityScore)
	}
}

func TestOpenWeatherForecastUsesThreeHourRain(t *testing.T) {
	body := `{"city": {"timezone": 3600}, "list": [
		{"dt": 1760529600, "main": {"temp": 12, "humidity": 70}, "rain": {"3h": 4}, "pop": 0.6,
		 "weather": [{"main": "Rain", "description": "moderate rain"}]}
	]}`
	srv, _ := countingServer(t, http.StatusOK, body, func(r *http.Request) {
		if got := r.URL.Query().Get("cnt"); got != "16" {
			t.Errorf("expected cnt=16, got %q", got)
		}
	})

	p := NewOpenWeatherProvider(weather.ProviderDescriptor{Name: "ow", BaseURL: srv.URL}, srv.Client(), "secret")
	obs, err := p.Forecast(context.Background(), 42.7, 23.3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(obs))
	}
	o := obs[0]
	if !approx(o.Rainfall, 4) || !approx(o.PrecipProbability, 60) {
		t.Errorf("unexpected precipitation: %v / %v%%", o.Rainfall, o.PrecipProbability)
	}
	// No wind block.
	if o.QualityScore != 90 {
		t.Errorf("expected quality 90, got %d", o.QualityScore)
	}
}

func TestOpenWeatherHistoricalUnsupported(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, `{}`, nil)
	p := NewOpenWeatherProvider(weather.ProviderDescriptor{Name: "ow", BaseURL: srv.URL}, srv.Client(), "secret")

	_, err := p.Historical(context.Background(), 42.7, 23.3, time.Now().AddDate(0, 0, -3), time.Now())
	if !errors.Is(err, weather.ErrCapabilityUnsupported) {
		t.Fatalf("expected ErrCapabilityUnsupported, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no requests, got %d", hits.Load())
	}
}

func TestOpenWeatherWithoutKey(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, `{}`, nil)
	p := NewOpenWeatherProvider(weather.ProviderDescriptor{Name: "ow", BaseURL: srv.URL}, srv.Client(), "")

	_, err := p.Current(context.Background(), 42.7, 23.3)
	if !errors.Is(err, weather.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no requests, got %d", hits.Load())
	}
}

func TestWeatherAPIForecast(t *testing.T) {
	body := `{"forecast": {"forecastday": [{"hour": [
		{"time": "2026-10-15 12:00", "temp_c": 20, "humidity": 50, "wind_kph": 36, "gust_kph": 54,
		 "snow_cm": 1, "precip_mm": 0.4, "chance_of_rain": 70,
		 "condition": {"text": "Patchy rain nearby", "icon": "//cdn/176.png"}},
		{"time": "2026-10-15 13:00", "temp_c": 21, "humidity": 48,
		 "condition": {"text": "Sunny"}}
	]}]}}`
	srv, _ := countingServer(t, http.StatusOK, body, func(r *http.Request) {
		if r.URL.Path != "/forecast.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "secret" || r.URL.Query().Get("days") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
	})

	p := NewWeatherAPIProvider(weather.ProviderDescriptor{Name: "wa", BaseURL: srv.URL}, srv.Client(), "secret")
	obs, err := p.Forecast(context.Background(), 42.7, 23.3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}

	o := obs[0]
	if !approx(o.WindSpeed, 10) || !approx(o.WindGust, 15) {
		t.Errorf("expected kph converted to m/s, got wind=%v gust=%v", o.WindSpeed, o.WindGust)
	}
	if !approx(o.Snow, 10) {
		t.Errorf("expected 10mm snow, got %v", o.Snow)
	}
	if o.Condition != weather.ConditionRain || o.Hour == nil || *o.Hour != 12 {
		t.Errorf("unexpected sample: %q hour=%v", o.Condition, o.Hour)
	}
	if o.QualityScore != 100 {
		t.Errorf("expected quality 100, got %d", o.QualityScore)
	}

	if obs[1].Condition != weather.ConditionClear {
		t.Errorf("expected clear, got %q", obs[1].Condition)
	}
	if obs[1].QualityScore != 90 {
		t.Errorf("expected quality 90 without wind, got %d", obs[1].QualityScore)
	}
}

func TestWeatherAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantHits int32
	}{
		{"unauthorized is not retried", http.StatusUnauthorized, `{}`, weather.ErrAuthenticationFailed, 1},
		{"forbidden is not retried", http.StatusForbidden, `{}`, weather.ErrAuthenticationFailed, 1},
		{"malformed body", http.StatusOK, `{"forecast": `, weather.ErrProviderData, 1},
		{"no hours", http.StatusOK, `{"forecast": {"forecastday": []}}`, weather.ErrProviderData, 1},
		{"bad hour timestamp", http.StatusOK, `{"forecast": {"forecastday": [{"hour": [{"time": "noon"}]}]}}`, weather.ErrProviderData, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := countingServer(t, tt.status, tt.body, nil)
			p := NewWeatherAPIProvider(weather.ProviderDescriptor{Name: "wa", BaseURL: srv.URL}, srv.Client(), "secret")

			_, err := p.Forecast(context.Background(), 42.7, 23.3, 1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if hits.Load() != tt.wantHits {
				t.Fatalf("expected %d requests, got %d", tt.wantHits, hits.Load())
			}
		})
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"current": {"last_updated": "2026-10-15 08:45", "temp_c": 9, "humidity": 90, "wind_kph": 7.2, "condition": {"text": "Mist"}}}`)
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(weather.ProviderDescriptor{Name: "wa", BaseURL: srv.URL}, srv.Client(), "secret")
	p.httpCfg.Backoff.InitialInterval = time.Millisecond

	o, err := p.Current(context.Background(), 42.7, 23.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
	if o.Condition != weather.ConditionMist || !approx(o.WindSpeed, 2) {
		t.Errorf("unexpected observation: %q wind=%v", o.Condition, o.WindSpeed)
	}
}

func TestAdmitRunsBeforeNetwork(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, openMeteoForecastBody, nil)
	p := NewOpenMeteoProvider(weather.ProviderDescriptor{
		Name:                 "om",
		BaseURL:              srv.URL,
		MaxRequestsPerWindow: 1,
	}, srv.Client())
	ctx := context.Background()

	if _, err := p.Forecast(ctx, 91, 23.3, 1); !errors.Is(err, weather.ErrInvalidCoordinates) {
		t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
	}
	if _, err := p.Forecast(ctx, 42.7, 23.3, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Forecast(ctx, 42.7, 23.3, 1); !errors.Is(err, weather.ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly 1 request, got %d", hits.Load())
	}
}

func TestWindowLimiter(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	l := newWindowLimiter(2)
	l.now = func() time.Time { return now }

	if !l.Allow() || !l.Allow() {
		t.Fatal("expected the first two requests to pass")
	}
	if l.Allow() {
		t.Fatal("expected the third request in the window to be rejected")
	}

	now = now.Add(59 * time.Second)
	if l.Allow() {
		t.Fatal("expected the window to still be exhausted")
	}

	now = now.Add(time.Second)
	if !l.Allow() {
		t.Fatal("expected a fresh window after 60s")
	}
}

func TestBadHorizonKeepsWindowSlot(t *testing.T) {
	ctx := context.Background()
	srv, hits := countingServer(t, http.StatusOK, openMeteoForecastBody, nil)
	desc := func(name string) weather.ProviderDescriptor {
		return weather.ProviderDescriptor{Name: name, BaseURL: srv.URL, MaxRequestsPerWindow: 1}
	}

	tests := []struct {
		name string
		p    weather.Provider
		bad  int
	}{
		{"openmeteo", NewOpenMeteoProvider(desc("om"), srv.Client()), 17},
		{"openweather", NewOpenWeatherProvider(desc("ow"), srv.Client(), "key"), 6},
		{"weatherapi", NewWeatherAPIProvider(desc("wa"), srv.Client(), "key"), 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.p.Forecast(ctx, 42.7, 23.3, tt.bad); err == nil || errors.Is(err, weather.ErrRateLimitExceeded) {
				t.Fatalf("expected a horizon error, got %v", err)
			}
			// The single slot is still available; any outcome but a rate limit is fine.
			if _, err := tt.p.Forecast(ctx, 42.7, 23.3, 1); errors.Is(err, weather.ErrRateLimitExceeded) {
				t.Fatal("rejected horizon consumed the window slot")
			}
		})
	}
	if hits.Load() != 3 {
		t.Fatalf("expected one request per provider, got %d", hits.Load())
	}
}

func TestWindowLimiterConcurrent(t *testing.T) {
	l := newWindowLimiter(10)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 10 {
		t.Fatalf("expected exactly 10 requests admitted, got %d", got)
	}
}

func TestWindowLimiterUnlimited(t *testing.T) {
	l := newWindowLimiter(0)
	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatalf("request %d rejected by unlimited limiter", i)
		}
	}
}

func TestFactory(t *testing.T) {
	env := map[string]string{"WA_KEY": "secret"}
	build := newFactory(http.DefaultClient, func(k string) string { return env[k] })

	p, err := build(weather.ProviderDescriptor{Name: "primary-wa", Type: "weatherapi", APIKeyEnv: "WA_KEY"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wa, ok := p.(*WeatherAPIProvider)
	if !ok {
		t.Fatalf("expected *WeatherAPIProvider, got %T", p)
	}
	if wa.Name() != "primary-wa" || wa.apiKey != "secret" || wa.baseURL != weatherAPIURL {
		t.Fatalf("unexpected client: name=%s key=%s url=%s", wa.Name(), wa.apiKey, wa.baseURL)
	}

	if _, err := build(weather.ProviderDescriptor{Name: "x", Type: "darksky"}); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := build(weather.ProviderDescriptor{Name: "ow", Type: "openweather", APIKeyEnv: "OW_KEY"}); err == nil {
		t.Error("expected error for missing credential")
	}
	if _, err := build(weather.ProviderDescriptor{Name: "om", Type: "openmeteo"}); err != nil {
		t.Errorf("keyless provider should build: %v", err)
	}
}
