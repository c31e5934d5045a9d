package weather

import (
	"encoding/json"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// DataType tags an observation as current, forecast or historical data.
type DataType string

const (
	DataTypeCurrent    DataType = "current"
	DataTypeForecast   DataType = "forecast"
	DataTypeHistorical DataType = "historical"
)

// Owner is the farmer whose address is resolved into a WeatherLocation.
type Owner struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"` // ISO 3166-1 alpha-2
}

// WeatherLocation is a resolved point for which weather is tracked.
// Zones and crop suitability are derived from the coordinates and country.
type WeatherLocation struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId,omitempty"`
	Address          string    `json:"address,omitempty"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Country          string    `json:"country"`
	Region           string    `json:"region,omitempty"`
	ClimateZone      string    `json:"climateZone"`
	AgriculturalZone string    `json:"agriculturalZone"`
	CropSuitable     bool      `json:"cropSuitable"`
	Verified         bool      `json:"verified"`
	Primary          bool      `json:"primary"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// MergeLocation applies an update to an existing location. Once a location is
// verified its coordinates and address are frozen and only the derived zone
// fields may change.
func MergeLocation(existing, update WeatherLocation) WeatherLocation {
	if !existing.Verified {
		update.CreatedAt = existing.CreatedAt
		return update
	}
	merged := existing
	merged.ClimateZone = update.ClimateZone
	merged.AgriculturalZone = update.AgriculturalZone
	merged.CropSuitable = update.CropSuitable
	merged.Primary = update.Primary
	merged.UpdatedAt = update.UpdatedAt
	return merged
}

// Observation is a standardized weather record. A nil Hour marks a
// daily-aggregated record.
type Observation struct {
	LocationID string    `json:"locationId"`
	Provider   string    `json:"provider"`
	DataType   DataType  `json:"dataType"`
	Date       time.Time `json:"date"` // calendar date at midnight UTC
	Hour       *int      `json:"hour,omitempty"`
	Timestamp  time.Time `json:"timestamp"` // sample time in the location's local zone

	Temperature    float64 `json:"temperatureC"`
	TemperatureMin float64 `json:"temperatureMinC"`
	TemperatureMax float64 `json:"temperatureMaxC"`
	FeelsLike      float64 `json:"feelsLikeC"`
	Humidity       float64 `json:"humidityPercent"`
	Pressure       float64 `json:"pressureHpa"`

	WindSpeed     float64 `json:"windSpeedMs"`
	WindDirection float64 `json:"windDirectionDeg"`
	WindGust      float64 `json:"windGustMs"`

	Rainfall          float64 `json:"rainfallMm"`
	PrecipProbability float64 `json:"precipProbabilityPercent"`
	Snow              float64 `json:"snowMm"`

	Condition   Condition `json:"condition"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`

	QualityScore int             `json:"dataQualityScore"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// IsDaily reports whether the observation is a daily aggregate.
func (o Observation) IsDaily() bool {
	return o.Hour == nil
}

// Key returns the natural upsert key (location, date, hour, data_type).
func (o Observation) Key() ObservationKey {
	h := -1
	if o.Hour != nil {
		h = *o.Hour
	}
	return ObservationKey{
		LocationID: o.LocationID,
		Date:       o.Date.UTC().Format(dateLayout),
		Hour:       h,
		DataType:   o.DataType,
	}
}

// ObservationKey is the natural key of an observation; Hour is -1 for daily records.
type ObservationKey struct {
	LocationID string
	Date       string
	Hour       int
	DataType   DataType
}

// ObservationQuery filters stored observations. Zero values disable a filter.
type ObservationQuery struct {
	LocationID   string
	DataType     DataType
	CreatedSince time.Time
	DailyOnly    bool
}

// Forecast is the result of a cache-or-fetch forecast request.
type Forecast struct {
	LocationID string        `json:"locationId"`
	Provider   string        `json:"provider,omitempty"`
	Cached     bool          `json:"cached"`
	Daily      []Observation `json:"daily"`
	Hourly     []Observation `json:"hourly,omitempty"`
}

// Report bundles a resolved location with its forecast for an owner or coordinate request.
type Report struct {
	Location     WeatherLocation `json:"location"`
	Crop         string          `json:"crop,omitempty"`
	CropSuitable bool            `json:"cropSuitable"`
	Forecast     Forecast        `json:"forecast"`
}

// MonitoringPoint is a clustered sample point covering one or more locations.
type MonitoringPoint struct {
	ID               string   `json:"id"`
	Country          string   `json:"country"`
	Region           string   `json:"region,omitempty"`
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	LocationIDs      []string `json:"locationIds"`
	CoverageRadiusKm float64  `json:"coverageRadiusKm"`
}

const dateLayout = "2006-01-02"

// DateOf truncates t to its calendar date (in t's own zone) and returns it at midnight UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// HourPtr returns a pointer to h.
func HourPtr(h int) *int {
	return &h
}
