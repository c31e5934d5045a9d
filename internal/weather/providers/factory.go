package providers

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sony/gobreaker"

	"github.com/i474232898/agro-weather/internal/weather"
)

// Constructor builds a provider client from its descriptor and resolved credential.
type Constructor func(desc weather.ProviderDescriptor, client *http.Client, apiKey string) weather.Provider

// constructors maps a descriptor type tag to its client constructor.
var constructors = map[string]Constructor{
	"openmeteo": func(d weather.ProviderDescriptor, c *http.Client, _ string) weather.Provider {
		return NewOpenMeteoProvider(d, c)
	},
	"openweather": func(d weather.ProviderDescriptor, c *http.Client, key string) weather.Provider {
		return NewOpenWeatherProvider(d, c, key)
	},
	"weatherapi": func(d weather.ProviderDescriptor, c *http.Client, key string) weather.Provider {
		return NewWeatherAPIProvider(d, c, key)
	},
}

// Types lists the registered provider type tags.
func Types() []string {
	out := make([]string, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	return out
}

// NewFactory returns a weather.ProviderFactory that builds clients sharing
// client. Credentials are read from the environment variable named by the
// descriptor's APIKeyEnv.
func NewFactory(client *http.Client) weather.ProviderFactory {
	return newFactory(client, os.Getenv)
}

func newFactory(client *http.Client, lookup func(string) string) weather.ProviderFactory {
	return func(desc weather.ProviderDescriptor) (weather.Provider, error) {
		ctor, ok := constructors[desc.Type]
		if !ok {
			return nil, fmt.Errorf("unknown provider type %q", desc.Type)
		}
		var key string
		if desc.APIKeyEnv != "" {
			key = lookup(desc.APIKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("credential %s is not set", desc.APIKeyEnv)
			}
		}
		return ctor(desc, client, key), nil
	}
}

// base holds what every provider client shares: identity, transport settings,
// the circuit breaker and the request window.
type base struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	limiter *windowLimiter
}

func newBase(desc weather.ProviderDescriptor, client *http.Client, defaultURL string) base {
	u := desc.BaseURL
	if u == "" {
		u = defaultURL
	}
	return base{
		name:    desc.Name,
		baseURL: u,
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuit(desc.Name),
		limiter: newWindowLimiter(desc.MaxRequestsPerWindow),
	}
}

func (b *base) Name() string {
	return b.name
}

// admit validates coordinates and consumes a rate-limit slot. It runs before
// any network request.
func (b *base) admit(lat, lon float64) error {
	if !weather.ValidateCoordinates(lat, lon) {
		return fmt.Errorf("%w: lat=%f lon=%f", weather.ErrInvalidCoordinates, lat, lon)
	}
	if !b.limiter.Allow() {
		return fmt.Errorf("%w: %s allows %d requests per %s", weather.ErrRateLimitExceeded, b.name, b.limiter.max, b.limiter.window)
	}
	return nil
}
