package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/agro-weather/internal/weather"
)

const (
	openMeteoURL        = "https://api.open-meteo.com/v1"
	openMeteoArchiveURL = "https://archive-api.open-meteo.com/v1"

	openMeteoTimeLayout = "2006-01-02T15:04"
)

var openMeteoHourly = []string{
	"temperature_2m", "relative_humidity_2m", "apparent_temperature",
	"precipitation_probability", "precipitation", "snowfall", "weather_code",
	"pressure_msl", "wind_speed_10m", "wind_direction_10m", "wind_gusts_10m",
}

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
type OpenMeteoProvider struct {
	base
	archiveURL string
}

func NewOpenMeteoProvider(desc weather.ProviderDescriptor, client *http.Client) *OpenMeteoProvider {
	p := &OpenMeteoProvider{
		base:       newBase(desc, client, openMeteoURL),
		archiveURL: openMeteoArchiveURL,
	}
	// A custom base URL serves both endpoints.
	if desc.BaseURL != "" {
		p.archiveURL = desc.BaseURL
	}
	return p
}

type openMeteoCurrent struct {
	Time          string   `json:"time"`
	Temperature   *float64 `json:"temperature_2m"`
	Humidity      *float64 `json:"relative_humidity_2m"`
	FeelsLike     *float64 `json:"apparent_temperature"`
	Precipitation *float64 `json:"precipitation"`
	Snowfall      *float64 `json:"snowfall"`
	WeatherCode   *int     `json:"weather_code"`
	Pressure      *float64 `json:"pressure_msl"`
	WindSpeed     *float64 `json:"wind_speed_10m"`
	WindDirection *float64 `json:"wind_direction_10m"`
	WindGust      *float64 `json:"wind_gusts_10m"`
}

type openMeteoHourlyBlock struct {
	Time          []string   `json:"time"`
	Temperature   []*float64 `json:"temperature_2m"`
	Humidity      []*float64 `json:"relative_humidity_2m"`
	FeelsLike     []*float64 `json:"apparent_temperature"`
	PrecipProb    []*float64 `json:"precipitation_probability"`
	Precipitation []*float64 `json:"precipitation"`
	Snowfall      []*float64 `json:"snowfall"`
	WeatherCode   []*int     `json:"weather_code"`
	Pressure      []*float64 `json:"pressure_msl"`
	WindSpeed     []*float64 `json:"wind_speed_10m"`
	WindDirection []*float64 `json:"wind_direction_10m"`
	WindGust      []*float64 `json:"wind_gusts_10m"`
}

type openMeteoResponse struct {
	UTCOffsetSeconds int                   `json:"utc_offset_seconds"`
	Current          *openMeteoCurrent     `json:"current"`
	Hourly           *openMeteoHourlyBlock `json:"hourly"`
}

func (p *OpenMeteoProvider) Current(ctx context.Context, lat, lon float64) (weather.Observation, error) {
	if err := p.admit(lat, lon); err != nil {
		return weather.Observation{}, err
	}

	values := p.query(lat, lon)
	values.Set("current", strings.Join(withoutField(openMeteoHourly, "precipitation_probability"), ","))

	payload, err := p.get(ctx, p.baseURL+"/forecast", values)
	if err != nil {
		return weather.Observation{}, err
	}
	if payload.Current == nil {
		return weather.Observation{}, fmt.Errorf("%w: openmeteo response has no current block", weather.ErrProviderData)
	}

	c := payload.Current
	zone := time.FixedZone("", payload.UTCOffsetSeconds)
	ts, err := time.ParseInLocation(openMeteoTimeLayout, c.Time, zone)
	if err != nil {
		ts = time.Now().In(zone)
	}

	desc := ""
	cond := weather.ConditionUnknown
	if c.WeatherCode != nil {
		desc = wmoDescription(*c.WeatherCode)
		cond = mapOpenMeteoCondition(*c.WeatherCode)
	}

	return weather.Observation{
		Provider:      p.name,
		DataType:      weather.DataTypeCurrent,
		Timestamp:     ts,
		Date:          weather.DateOf(ts),
		Hour:          weather.HourPtr(ts.Hour()),
		Temperature:   floatOr(c.Temperature, 0),
		FeelsLike:     floatOr(c.FeelsLike, floatOr(c.Temperature, 0)),
		Humidity:      floatOr(c.Humidity, 0),
		Pressure:      floatOr(c.Pressure, 0),
		WindSpeed:     floatOr(c.WindSpeed, 0),
		WindDirection: floatOr(c.WindDirection, 0),
		WindGust:      floatOr(c.WindGust, 0),
		Rainfall:      floatOr(c.Precipitation, 0),
		Snow:          floatOr(c.Snowfall, 0) * 10,
		Condition:     cond,
		Description:   desc,
		Icon:          wmoIcon(c.WeatherCode),
		QualityScore: weather.ScoreQuality(weather.QualityInput{
			HasTemperatureBlock: c.Temperature != nil || c.FeelsLike != nil,
			Temperature:         c.Temperature,
			Humidity:            c.Humidity,
			ConditionText:       desc,
			HasWindBlock:        c.WindSpeed != nil,
		}),
		Raw: rawJSON(c),
	}, nil
}

func (p *OpenMeteoProvider) Forecast(ctx context.Context, lat, lon float64, days int) ([]weather.Observation, error) {
	if days <= 0 || days > 16 {
		return nil, fmt.Errorf("openmeteo supports 1-16 forecast days, got %d", days)
	}
	if err := p.admit(lat, lon); err != nil {
		return nil, err
	}

	values := p.query(lat, lon)
	values.Set("hourly", strings.Join(openMeteoHourly, ","))
	values.Set("forecast_days", strconv.Itoa(days))

	payload, err := p.get(ctx, p.baseURL+"/forecast", values)
	if err != nil {
		return nil, err
	}
	return p.hourly(payload, weather.DataTypeForecast)
}

func (p *OpenMeteoProvider) Historical(ctx context.Context, lat, lon float64, start, end time.Time) ([]weather.Observation, error) {
	if err := p.admit(lat, lon); err != nil {
		return nil, err
	}

	values := p.query(lat, lon)
	// The archive has no precipitation probability.
	values.Set("hourly", strings.Join(withoutField(openMeteoHourly, "precipitation_probability"), ","))
	values.Set("start_date", start.Format("2006-01-02"))
	values.Set("end_date", end.Format("2006-01-02"))

	payload, err := p.get(ctx, p.archiveURL+"/archive", values)
	if err != nil {
		return nil, err
	}
	return p.hourly(payload, weather.DataTypeHistorical)
}

func (p *OpenMeteoProvider) query(lat, lon float64) url.Values {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%f", lat))
	values.Set("longitude", fmt.Sprintf("%f", lon))
	values.Set("wind_speed_unit", "ms")
	values.Set("timezone", "auto")
	return values
}

func (p *OpenMeteoProvider) get(ctx context.Context, endpoint string, values url.Values) (openMeteoResponse, error) {
	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s?%s", endpoint, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return openMeteoResponse{}, err
	}

	var payload openMeteoResponse
	if err := decodeBody(resp, &payload); err != nil {
		return openMeteoResponse{}, err
	}
	return payload, nil
}

func (p *OpenMeteoProvider) hourly(payload openMeteoResponse, dt weather.DataType) ([]weather.Observation, error) {
	h := payload.Hourly
	if h == nil || len(h.Time) == 0 {
		return nil, fmt.Errorf("%w: openmeteo response has no hourly block", weather.ErrProviderData)
	}
	zone := time.FixedZone("", payload.UTCOffsetSeconds)

	out := make([]weather.Observation, 0, len(h.Time))
	for i, raw := range h.Time {
		ts, err := time.ParseInLocation(openMeteoTimeLayout, raw, zone)
		if err != nil {
			return nil, fmt.Errorf("%w: openmeteo time %q: %v", weather.ErrProviderData, raw, err)
		}

		temp := at(h.Temperature, i)
		hum := at(h.Humidity, i)
		var code *int
		if i < len(h.WeatherCode) {
			code = h.WeatherCode[i]
		}
		desc := ""
		cond := weather.ConditionUnknown
		if code != nil {
			desc = wmoDescription(*code)
			cond = mapOpenMeteoCondition(*code)
		}

		sample := map[string]any{
			"time":                      raw,
			"temperature_2m":            temp,
			"relative_humidity_2m":      hum,
			"apparent_temperature":      at(h.FeelsLike, i),
			"precipitation_probability": at(h.PrecipProb, i),
			"precipitation":             at(h.Precipitation, i),
			"snowfall":                  at(h.Snowfall, i),
			"weather_code":              code,
			"pressure_msl":              at(h.Pressure, i),
			"wind_speed_10m":            at(h.WindSpeed, i),
			"wind_direction_10m":        at(h.WindDirection, i),
			"wind_gusts_10m":            at(h.WindGust, i),
		}

		out = append(out, weather.Observation{
			Provider:          p.name,
			DataType:          dt,
			Timestamp:         ts,
			Date:              weather.DateOf(ts),
			Hour:              weather.HourPtr(ts.Hour()),
			Temperature:       floatOr(temp, 0),
			FeelsLike:         floatOr(at(h.FeelsLike, i), floatOr(temp, 0)),
			Humidity:          floatOr(hum, 0),
			Pressure:          floatOr(at(h.Pressure, i), 0),
			WindSpeed:         floatOr(at(h.WindSpeed, i), 0),
			WindDirection:     floatOr(at(h.WindDirection, i), 0),
			WindGust:          floatOr(at(h.WindGust, i), 0),
			Rainfall:          floatOr(at(h.Precipitation, i), 0),
			PrecipProbability: floatOr(at(h.PrecipProb, i), 0),
			Snow:              floatOr(at(h.Snowfall, i), 0) * 10, // cm to mm
			Condition:         cond,
			Description:       desc,
			Icon:              wmoIcon(code),
			QualityScore: weather.ScoreQuality(weather.QualityInput{
				HasTemperatureBlock: len(h.Temperature) > 0,
				Temperature:         temp,
				Humidity:            hum,
				ConditionText:       desc,
				HasWindBlock:        len(h.WindSpeed) > 0,
			}),
			Raw: rawJSON(sample),
		})
	}
	return out, nil
}

func at(arr []*float64, i int) *float64 {
	if i < len(arr) {
		return arr[i]
	}
	return nil
}

func withoutField(fields []string, drop string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != drop {
			out = append(out, f)
		}
	}
	return out
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// Mapping based on Open-Meteo weather codes (simplified).
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}

var wmoDescriptions = map[int]string{
	0: "Clear sky", 1: "Mainly clear", 2: "Partly cloudy", 3: "Overcast",
	45: "Fog", 48: "Depositing rime fog",
	51: "Light drizzle", 53: "Moderate drizzle", 55: "Dense drizzle",
	56: "Light freezing drizzle", 57: "Dense freezing drizzle",
	61: "Slight rain", 63: "Moderate rain", 65: "Heavy rain",
	66: "Light freezing rain", 67: "Heavy freezing rain",
	71: "Slight snow fall", 73: "Moderate snow fall", 75: "Heavy snow fall", 77: "Snow grains",
	80: "Slight rain showers", 81: "Moderate rain showers", 82: "Violent rain showers",
	85: "Slight snow showers", 86: "Heavy snow showers",
	95: "Thunderstorm", 96: "Thunderstorm with slight hail", 99: "Thunderstorm with heavy hail",
}

func wmoDescription(code int) string {
	if d, ok := wmoDescriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("Weather code %d", code)
}

func wmoIcon(code *int) string {
	if code == nil {
		return ""
	}
	return "wmo-" + strconv.Itoa(*code)
}
