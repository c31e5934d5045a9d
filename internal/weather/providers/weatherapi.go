package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/agro-weather/internal/common"
	"github.com/i474232898/agro-weather/internal/weather"
)

const (
	weatherAPIURL        = "https://api.weatherapi.com/v1"
	weatherAPITimeLayout = "2006-01-02 15:04"
)

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	base
	apiKey string
}

func NewWeatherAPIProvider(desc weather.ProviderDescriptor, client *http.Client, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		base:   newBase(desc, client, weatherAPIURL),
		apiKey: apiKey,
	}
}

// weatherAPISample covers both the "current" block and forecast/history hours.
type weatherAPISample struct {
	Time         string   `json:"time"`
	LastUpdated  string   `json:"last_updated"`
	TempC        *float64 `json:"temp_c"`
	FeelsLikeC   *float64 `json:"feelslike_c"`
	Humidity     *float64 `json:"humidity"`
	WindKph      *float64 `json:"wind_kph"`
	WindDegree   float64  `json:"wind_degree"`
	GustKph      float64  `json:"gust_kph"`
	PressureMb   float64  `json:"pressure_mb"`
	PrecipMm     float64  `json:"precip_mm"`
	SnowCm       float64  `json:"snow_cm"`
	ChanceOfRain float64  `json:"chance_of_rain"`
	Condition    *struct {
		Text string `json:"text"`
		Icon string `json:"icon"`
		Code int    `json:"code"`
	} `json:"condition"`
}

type weatherAPIResponse struct {
	Current  json.RawMessage `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Hour []json.RawMessage `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func (p *WeatherAPIProvider) Current(ctx context.Context, lat, lon float64) (weather.Observation, error) {
	if err := p.admit(lat, lon); err != nil {
		return weather.Observation{}, err
	}
	if p.apiKey == "" {
		return weather.Observation{}, fmt.Errorf("%w: weatherapi api key is not configured", weather.ErrAuthenticationFailed)
	}

	payload, err := p.get(ctx, "/current.json", p.query(lat, lon))
	if err != nil {
		return weather.Observation{}, err
	}
	if len(payload.Current) == 0 {
		return weather.Observation{}, fmt.Errorf("%w: weatherapi response has no current block", weather.ErrProviderData)
	}

	o, err := p.standardize(payload.Current, true)
	if err != nil {
		return weather.Observation{}, err
	}
	o.DataType = weather.DataTypeCurrent
	return o, nil
}

func (p *WeatherAPIProvider) Forecast(ctx context.Context, lat, lon float64, days int) ([]weather.Observation, error) {
	if days <= 0 || days > 14 {
		return nil, fmt.Errorf("weatherapi supports 1-14 forecast days, got %d", days)
	}
	if err := p.admit(lat, lon); err != nil {
		return nil, err
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: weatherapi api key is not configured", weather.ErrAuthenticationFailed)
	}

	values := p.query(lat, lon)
	values.Set("days", strconv.Itoa(days))
	values.Set("aqi", "no")
	values.Set("alerts", "no")

	payload, err := p.get(ctx, "/forecast.json", values)
	if err != nil {
		return nil, err
	}
	return p.hours(payload, weather.DataTypeForecast)
}

func (p *WeatherAPIProvider) Historical(ctx context.Context, lat, lon float64, start, end time.Time) ([]weather.Observation, error) {
	if err := p.admit(lat, lon); err != nil {
		return nil, err
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: weatherapi api key is not configured", weather.ErrAuthenticationFailed)
	}

	values := p.query(lat, lon)
	values.Set("dt", start.Format("2006-01-02"))
	values.Set("end_dt", end.Format("2006-01-02"))

	payload, err := p.get(ctx, "/history.json", values)
	if err != nil {
		return nil, err
	}
	return p.hours(payload, weather.DataTypeHistorical)
}

func (p *WeatherAPIProvider) query(lat, lon float64) url.Values {
	values := url.Values{}
	values.Set("key", p.apiKey)
	// WeatherAPI uses "q" for location; it accepts "lat,lon".
	values.Set("q", fmt.Sprintf("%f,%f", lat, lon))
	return values
}

func (p *WeatherAPIProvider) get(ctx context.Context, path string, values url.Values) (weatherAPIResponse, error) {
	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s%s?%s", p.baseURL, path, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weatherAPIResponse{}, err
	}

	var payload weatherAPIResponse
	if err := decodeBody(resp, &payload); err != nil {
		return weatherAPIResponse{}, err
	}
	return payload, nil
}

func (p *WeatherAPIProvider) hours(payload weatherAPIResponse, dt weather.DataType) ([]weather.Observation, error) {
	var out []weather.Observation
	for _, day := range payload.Forecast.ForecastDay {
		for _, raw := range day.Hour {
			o, err := p.standardize(raw, false)
			if err != nil {
				return nil, err
			}
			o.DataType = dt
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: weatherapi response has no hourly data", weather.ErrProviderData)
	}
	return out, nil
}

// standardize maps one WeatherAPI sample. Local times are kept as wall-clock
// values; only their calendar date and hour matter downstream.
func (p *WeatherAPIProvider) standardize(raw json.RawMessage, current bool) (weather.Observation, error) {
	var s weatherAPISample
	if err := json.Unmarshal(raw, &s); err != nil {
		return weather.Observation{}, fmt.Errorf("%w: weatherapi sample: %v", weather.ErrProviderData, err)
	}

	stamp := s.Time
	if current {
		stamp = s.LastUpdated
	}
	ts, err := time.Parse(weatherAPITimeLayout, stamp)
	if err != nil {
		if !current {
			return weather.Observation{}, fmt.Errorf("%w: weatherapi time %q: %v", weather.ErrProviderData, stamp, err)
		}
		ts = time.Now().UTC()
	}

	o := weather.Observation{
		Provider:          p.name,
		Timestamp:         ts,
		Date:              weather.DateOf(ts),
		Hour:              weather.HourPtr(ts.Hour()),
		Temperature:       floatOr(s.TempC, 0),
		FeelsLike:         floatOr(s.FeelsLikeC, floatOr(s.TempC, 0)),
		Humidity:          floatOr(s.Humidity, 0),
		Pressure:          s.PressureMb,
		WindDirection:     s.WindDegree,
		WindGust:          s.GustKph / 3.6,
		Rainfall:          s.PrecipMm,
		PrecipProbability: s.ChanceOfRain,
		Snow:              s.SnowCm * 10,
		Raw:               raw,
	}
	// Convert wind from kph to m/s (approx).
	if s.WindKph != nil {
		o.WindSpeed = *s.WindKph / 3.6
	}

	q := weather.QualityInput{
		HasTemperatureBlock: s.TempC != nil || s.FeelsLikeC != nil,
		Temperature:         s.TempC,
		Humidity:            s.Humidity,
		HasWindBlock:        s.WindKph != nil,
	}
	if s.Condition != nil {
		o.Description = s.Condition.Text
		o.Icon = s.Condition.Icon
		q.ConditionText = s.Condition.Text
	}
	o.Condition = mapWeatherAPICondition(o.Description)
	o.QualityScore = weather.ScoreQuality(q)
	return o, nil
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.HasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.HasAny(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case common.HasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.HasAny(text, "mist", "fog"):
		return weather.ConditionMist
	case common.HasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.HasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
