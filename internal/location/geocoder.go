package location

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
	"golang.org/x/time/rate"
)

// Address is the structured form of an owner's address.
type Address struct {
	Street     string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// String builds the composite address used for geocoding and as the cache key.
func (a Address) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.Region, a.PostalCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Place is a reverse-geocoded administrative area.
type Place struct {
	Country string // ISO code when known
	Region  string
}

// Geocoder converts addresses to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, addr Address) (lat, lon float64, err error)
}

// ReverseGeocoder converts coordinates to an administrative area.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (Place, error)
}

// GoogleGeocoder geocodes through the Google Maps API via kelvins/geocoder.
// Calls are paced by a token bucket to stay inside the API quota.
type GoogleGeocoder struct {
	limiter *rate.Limiter
}

var setKeyOnce sync.Once

// NewGoogleGeocoder configures the package-level API key of kelvins/geocoder;
// the library keeps it in a global, so the first key wins for the process.
func NewGoogleGeocoder(apiKey string, requestsPerSecond float64) *GoogleGeocoder {
	setKeyOnce.Do(func() {
		geocoder.ApiKey = apiKey
	})
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &GoogleGeocoder{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, addr Address) (float64, float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	loc, err := geocoder.Geocoding(geocoder.Address{
		Street:     addr.Street,
		City:       addr.City,
		State:      addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %q: %w", addr.String(), err)
	}
	return loc.Latitude, loc.Longitude, nil
}

func (g *GoogleGeocoder) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Place{}, err
	}

	addrs, err := geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lon})
	if err != nil {
		return Place{}, fmt.Errorf("reverse geocode %f,%f: %w", lat, lon, err)
	}
	if len(addrs) == 0 {
		return Place{}, fmt.Errorf("reverse geocode %f,%f: no results", lat, lon)
	}
	return Place{
		Country: CountryCode(addrs[0].Country),
		Region:  addrs[0].State,
	}, nil
}
