package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/agro-weather/internal/weather"
)

const openWeatherURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
// The free tier has no historical endpoint.
type OpenWeatherProvider struct {
	base
	apiKey string
}

func NewOpenWeatherProvider(desc weather.ProviderDescriptor, client *http.Client, apiKey string) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		base:   newBase(desc, client, openWeatherURL),
		apiKey: apiKey,
	}
}

type openWeatherItem struct {
	Dt   int64 `json:"dt"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		Pressure  *float64 `json:"pressure"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Wind *struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
		Gust  float64 `json:"gust"`
	} `json:"wind"`
	Rain struct {
		OneH   float64 `json:"1h"`
		ThreeH float64 `json:"3h"`
	} `json:"rain"`
	Snow struct {
		OneH   float64 `json:"1h"`
		ThreeH float64 `json:"3h"`
	} `json:"snow"`
	Pop     float64 `json:"pop"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

func (p *OpenWeatherProvider) Current(ctx context.Context, lat, lon float64) (weather.Observation, error) {
	if err := p.admit(lat, lon); err != nil {
		return weather.Observation{}, err
	}
	if p.apiKey == "" {
		return weather.Observation{}, fmt.Errorf("%w: openweather api key is not configured", weather.ErrAuthenticationFailed)
	}

	var payload struct {
		Timezone int `json:"timezone"`
	}
	var raw json.RawMessage
	if err := p.get(ctx, "/weather", p.query(lat, lon), &raw); err != nil {
		return weather.Observation{}, err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return weather.Observation{}, fmt.Errorf("%w: %v", weather.ErrProviderData, err)
	}

	var item openWeatherItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return weather.Observation{}, fmt.Errorf("%w: %v", weather.ErrProviderData, err)
	}
	o := p.standardize(item, raw, time.FixedZone("", payload.Timezone))
	o.DataType = weather.DataTypeCurrent
	return o, nil
}

func (p *OpenWeatherProvider) Forecast(ctx context.Context, lat, lon float64, days int) ([]weather.Observation, error) {
	if days <= 0 || days > 5 {
		return nil, fmt.Errorf("openweather supports 1-5 forecast days, got %d", days)
	}
	if err := p.admit(lat, lon); err != nil {
		return nil, err
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: openweather api key is not configured", weather.ErrAuthenticationFailed)
	}

	values := p.query(lat, lon)
	// Forecast entries are 3 hours apart.
	values.Set("cnt", strconv.Itoa(days*8))

	var payload struct {
		List []json.RawMessage `json:"list"`
		City struct {
			Timezone int `json:"timezone"`
		} `json:"city"`
	}
	if err := p.get(ctx, "/forecast", values, &payload); err != nil {
		return nil, err
	}

	zone := time.FixedZone("", payload.City.Timezone)
	out := make([]weather.Observation, 0, len(payload.List))
	for _, raw := range payload.List {
		var item openWeatherItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: forecast item: %v", weather.ErrProviderData, err)
		}
		o := p.standardize(item, raw, zone)
		o.DataType = weather.DataTypeForecast
		out = append(out, o)
	}
	return out, nil
}

func (p *OpenWeatherProvider) Historical(ctx context.Context, lat, lon float64, start, end time.Time) ([]weather.Observation, error) {
	return nil, fmt.Errorf("%w: %s historical", weather.ErrCapabilityUnsupported, p.name)
}

func (p *OpenWeatherProvider) query(lat, lon float64) url.Values {
	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")
	values.Set("lat", fmt.Sprintf("%f", lat))
	values.Set("lon", fmt.Sprintf("%f", lon))
	return values
}

func (p *OpenWeatherProvider) get(ctx context.Context, path string, values url.Values, out any) error {
	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s%s?%s", p.baseURL, path, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return err
	}
	return decodeBody(resp, out)
}

func (p *OpenWeatherProvider) standardize(item openWeatherItem, raw json.RawMessage, zone *time.Location) weather.Observation {
	ts := time.Unix(item.Dt, 0).In(zone)
	if item.Dt == 0 {
		ts = time.Now().In(zone)
	}

	precip := item.Rain.OneH
	if precip == 0 {
		precip = item.Rain.ThreeH
	}
	snow := item.Snow.OneH
	if snow == 0 {
		snow = item.Snow.ThreeH
	}

	o := weather.Observation{
		Provider:          p.name,
		Timestamp:         ts,
		Date:              weather.DateOf(ts),
		Hour:              weather.HourPtr(ts.Hour()),
		Rainfall:          precip,
		Snow:              snow,
		PrecipProbability: item.Pop * 100,
		Condition:         mapOpenWeatherCondition(item.Weather),
		Raw:               raw,
	}

	q := weather.QualityInput{HasTemperatureBlock: item.Main != nil, HasWindBlock: item.Wind != nil}
	if item.Main != nil {
		q.Temperature = item.Main.Temp
		q.Humidity = item.Main.Humidity
		o.Temperature = floatOr(item.Main.Temp, 0)
		o.FeelsLike = floatOr(item.Main.FeelsLike, o.Temperature)
		o.TemperatureMin = floatOr(item.Main.TempMin, o.Temperature)
		o.TemperatureMax = floatOr(item.Main.TempMax, o.Temperature)
		o.Humidity = floatOr(item.Main.Humidity, 0)
		o.Pressure = floatOr(item.Main.Pressure, 0)
	}
	if item.Wind != nil {
		o.WindSpeed = item.Wind.Speed
		o.WindDirection = item.Wind.Deg
		o.WindGust = item.Wind.Gust
	}
	if len(item.Weather) > 0 {
		o.Description = item.Weather[0].Description
		o.Icon = item.Weather[0].Icon
		q.ConditionText = item.Weather[0].Description
		if q.ConditionText == "" {
			q.ConditionText = item.Weather[0].Main
		}
	}
	o.QualityScore = weather.ScoreQuality(q)
	return o
}

func mapOpenWeatherCondition(items []struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}) weather.Condition {
	if len(items) == 0 {
		return weather.ConditionUnknown
	}
	switch items[0].Main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
