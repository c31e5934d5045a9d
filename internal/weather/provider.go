package weather

import (
	"context"
	"time"
)

// Capability names one operation of the provider contract.
type Capability string

const (
	CapabilityCurrent    Capability = "current"
	CapabilityForecast   Capability = "forecast"
	CapabilityHistorical Capability = "historical"
)

// ProviderDescriptor is the startup configuration of one weather provider.
type ProviderDescriptor struct {
	Name                 string       `yaml:"name" json:"name"`
	Type                 string       `yaml:"type" json:"type"`
	BaseURL              string       `yaml:"base_url" json:"baseUrl,omitempty"`
	Capabilities         []Capability `yaml:"capabilities" json:"capabilities,omitempty"`
	ComplianceScore      int          `yaml:"compliance_score" json:"complianceScore"`
	Verified             bool         `yaml:"verified" json:"verified"`
	MaxRequestsPerWindow int          `yaml:"max_requests_per_window" json:"maxRequestsPerWindow"`
	Active               bool         `yaml:"active" json:"active"`
	Primary              bool         `yaml:"primary" json:"primary"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env" json:"-"`
}

// Supports reports whether the descriptor allows the capability. An empty
// capability set allows everything the provider type implements.
func (d ProviderDescriptor) Supports(c Capability) bool {
	if len(d.Capabilities) == 0 {
		return true
	}
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Provider abstracts a weather data source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
type Provider interface {
	Name() string
	Current(ctx context.Context, lat, lon float64) (Observation, error)
	Forecast(ctx context.Context, lat, lon float64, days int) ([]Observation, error)
	Historical(ctx context.Context, lat, lon float64, start, end time.Time) ([]Observation, error)
}

// ProviderFactory builds a Provider for an admitted descriptor.
type ProviderFactory func(desc ProviderDescriptor) (Provider, error)

// Store is the storage collaborator for locations and observations.
type Store interface {
	GetLocation(ctx context.Context, id string) (WeatherLocation, error)
	PrimaryLocation(ctx context.Context, ownerID string) (WeatherLocation, error)
	FindLocationByCoordinates(ctx context.Context, lat, lon float64) (WeatherLocation, error)
	SaveLocation(ctx context.Context, loc WeatherLocation) (WeatherLocation, error)
	ListLocations(ctx context.Context) ([]WeatherLocation, error)

	UpsertObservations(ctx context.Context, obs []Observation) error
	ListObservations(ctx context.Context, q ObservationQuery) ([]Observation, error)
}

// OwnerDirectory loads owner (farmer) records.
type OwnerDirectory interface {
	GetOwner(ctx context.Context, ownerID string) (Owner, error)
}

// LocationResolver resolves owners and raw coordinates into stored locations.
type LocationResolver interface {
	Resolve(ctx context.Context, ownerID string) (WeatherLocation, error)
	ResolveCoordinates(ctx context.Context, lat, lon float64) (WeatherLocation, error)
}

// InsightGenerator is the LLM collaborator used to produce crop insights.
type InsightGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
