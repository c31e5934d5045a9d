package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/agro-weather/internal/weather"
)

type geoPoint struct {
	lat, lon float64
}

// Resolver turns owners and raw coordinates into stored WeatherLocations.
type Resolver struct {
	store    weather.Store
	owners   weather.OwnerDirectory
	geocoder Geocoder
	reverse  ReverseGeocoder

	mu    sync.RWMutex
	cache map[string]geoPoint // keyed by composite address, kept for the process lifetime

	now func() time.Time
}

// NewResolver creates a Resolver. geocoder and reverse may be nil; without a
// geocoder every owner falls back to its country centroid.
func NewResolver(store weather.Store, owners weather.OwnerDirectory, geocoder Geocoder, reverse ReverseGeocoder) *Resolver {
	return &Resolver{
		store:    store,
		owners:   owners,
		geocoder: geocoder,
		reverse:  reverse,
		cache:    make(map[string]geoPoint),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the owner's primary location, creating it on first use.
// Unverified locations are re-geocoded; verified ones only get their zones
// re-derived.
func (r *Resolver) Resolve(ctx context.Context, ownerID string) (weather.WeatherLocation, error) {
	existing, err := r.store.PrimaryLocation(ctx, ownerID)
	switch {
	case err == nil && existing.Verified:
		return r.rederive(ctx, existing)
	case err != nil && !errors.Is(err, weather.ErrLocationNotFound):
		return weather.WeatherLocation{}, err
	}

	owner, err := r.owners.GetOwner(ctx, ownerID)
	if err != nil {
		return weather.WeatherLocation{}, err
	}

	addr := Address{
		Street:     owner.Street,
		City:       owner.City,
		Region:     owner.Region,
		PostalCode: owner.PostalCode,
		Country:    owner.Country,
	}
	lat, lon, verified := r.geocode(ctx, addr)

	now := r.now()
	loc := weather.WeatherLocation{
		ID:        existing.ID,
		OwnerID:   owner.ID,
		Address:   addr.String(),
		Latitude:  lat,
		Longitude: lon,
		Country:   strings.ToUpper(owner.Country),
		Region:    owner.Region,
		Verified:  verified,
		Primary:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	classify(&loc)

	saved, err := r.store.SaveLocation(ctx, loc)
	if err != nil {
		return weather.WeatherLocation{}, fmt.Errorf("save location for owner %s: %w", ownerID, err)
	}
	slog.Info("location resolved", "owner", ownerID, "location", saved.ID,
		"verified", saved.Verified, "climate_zone", saved.ClimateZone, "agricultural_zone", saved.AgriculturalZone)
	return saved, nil
}

// ResolveCoordinates returns the stored location at exactly these coordinates,
// creating one when none exists.
func (r *Resolver) ResolveCoordinates(ctx context.Context, lat, lon float64) (weather.WeatherLocation, error) {
	if !weather.ValidateCoordinates(lat, lon) {
		return weather.WeatherLocation{}, fmt.Errorf("%w: lat=%f lon=%f", weather.ErrInvalidCoordinates, lat, lon)
	}

	existing, err := r.store.FindLocationByCoordinates(ctx, lat, lon)
	if err == nil {
		return r.rederive(ctx, existing)
	}
	if !errors.Is(err, weather.ErrLocationNotFound) {
		return weather.WeatherLocation{}, err
	}

	var place Place
	if r.reverse != nil {
		p, err := r.reverse.Reverse(ctx, lat, lon)
		if err != nil {
			slog.Warn("reverse geocoding failed; country unknown", "lat", lat, "lon", lon, "error", err)
		} else {
			place = p
		}
	}

	now := r.now()
	loc := weather.WeatherLocation{
		ID:        uuid.NewString(),
		Latitude:  lat,
		Longitude: lon,
		Country:   place.Country,
		Region:    place.Region,
		Verified:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	classify(&loc)

	return r.store.SaveLocation(ctx, loc)
}

func (r *Resolver) rederive(ctx context.Context, loc weather.WeatherLocation) (weather.WeatherLocation, error) {
	updated := loc
	classify(&updated)
	if updated.ClimateZone == loc.ClimateZone &&
		updated.AgriculturalZone == loc.AgriculturalZone &&
		updated.CropSuitable == loc.CropSuitable {
		return loc, nil
	}
	updated.UpdatedAt = r.now()
	return r.store.SaveLocation(ctx, updated)
}

// geocode returns coordinates for addr and whether they came from the
// geocoder. Failures and (0,0) results fall back to the country centroid and
// are not cached.
func (r *Resolver) geocode(ctx context.Context, addr Address) (float64, float64, bool) {
	key := addr.String()

	r.mu.RLock()
	p, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return p.lat, p.lon, true
	}

	if r.geocoder != nil && key != "" {
		lat, lon, err := r.geocoder.Geocode(ctx, addr)
		switch {
		case err != nil:
			slog.Warn("geocoding failed; using country centroid", "country", addr.Country, "error", err)
		case lat == 0 && lon == 0:
			slog.Warn("geocoding returned null island; using country centroid", "country", addr.Country)
		case !weather.ValidateCoordinates(lat, lon):
			slog.Warn("geocoding returned invalid coordinates; using country centroid", "country", addr.Country)
		default:
			r.mu.Lock()
			r.cache[key] = geoPoint{lat: lat, lon: lon}
			r.mu.Unlock()
			return lat, lon, true
		}
	}

	lat, lon := CountryCentroid(addr.Country)
	return lat, lon, false
}

func classify(loc *weather.WeatherLocation) {
	loc.ClimateZone = ClimateZone(loc.Country)
	loc.AgriculturalZone = AgriculturalZone(loc.Latitude)
	loc.CropSuitable = CropSuitable(loc.Latitude, loc.Country)
}
