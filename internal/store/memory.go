package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/agro-weather/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store
// and weather.OwnerDirectory.
type MemoryStore struct {
	mu sync.RWMutex

	owners       map[string]weather.Owner
	locations    map[string]weather.WeatherLocation
	observations map[weather.ObservationKey]weather.Observation

	// maxAge optionally drops observations older than this on write.
	maxAge time.Duration

	// upserts counts UpsertObservations calls.
	upserts int
}

// NewMemoryStore creates a new MemoryStore. If maxAge is <= 0, observations are kept forever.
func NewMemoryStore(maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		owners:       make(map[string]weather.Owner),
		locations:    make(map[string]weather.WeatherLocation),
		observations: make(map[weather.ObservationKey]weather.Observation),
		maxAge:       maxAge,
	}
}

func (s *MemoryStore) SaveOwner(_ context.Context, o weather.Owner) error {
	if o.ID == "" {
		return fmt.Errorf("owner id is required")
	}
	s.mu.Lock()
	s.owners[o.ID] = o
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetOwner(_ context.Context, ownerID string) (weather.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.owners[ownerID]
	if !ok {
		return weather.Owner{}, fmt.Errorf("%w: owner %s", weather.ErrLocationNotFound, ownerID)
	}
	return o, nil
}

func (s *MemoryStore) GetLocation(_ context.Context, id string) (weather.WeatherLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[id]
	if !ok {
		return weather.WeatherLocation{}, fmt.Errorf("%w: %s", weather.ErrLocationNotFound, id)
	}
	return l, nil
}

func (s *MemoryStore) PrimaryLocation(_ context.Context, ownerID string) (weather.WeatherLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.locations {
		if l.OwnerID == ownerID && l.Primary {
			return l, nil
		}
	}
	return weather.WeatherLocation{}, fmt.Errorf("%w: no primary location for owner %s", weather.ErrLocationNotFound, ownerID)
}

func (s *MemoryStore) FindLocationByCoordinates(_ context.Context, lat, lon float64) (weather.WeatherLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []weather.WeatherLocation
	for _, l := range s.locations {
		if l.Latitude == lat && l.Longitude == lon {
			found = append(found, l)
		}
	}
	if len(found) == 0 {
		return weather.WeatherLocation{}, fmt.Errorf("%w: %f,%f", weather.ErrLocationNotFound, lat, lon)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	return found[0], nil
}

// SaveLocation upserts a location by ID. Verified locations keep their
// coordinates, and saving a primary location demotes the owner's other ones.
func (s *MemoryStore) SaveLocation(_ context.Context, loc weather.WeatherLocation) (weather.WeatherLocation, error) {
	if loc.ID == "" {
		return weather.WeatherLocation{}, fmt.Errorf("location id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locations[loc.ID]; ok {
		loc = weather.MergeLocation(existing, loc)
	}
	if loc.Primary && loc.OwnerID != "" {
		for id, other := range s.locations {
			if id != loc.ID && other.OwnerID == loc.OwnerID && other.Primary {
				other.Primary = false
				s.locations[id] = other
			}
		}
	}
	s.locations[loc.ID] = loc
	return loc, nil
}

func (s *MemoryStore) ListLocations(_ context.Context) ([]weather.WeatherLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]weather.WeatherLocation, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertObservations stores observations by natural key and enforces retention.
func (s *MemoryStore) UpsertObservations(_ context.Context, obs []weather.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	for _, o := range obs {
		s.observations[o.Key()] = o
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		for k, o := range s.observations {
			if o.CreatedAt.Before(cutoff) {
				delete(s.observations, k)
			}
		}
	}
	return nil
}

func (s *MemoryStore) ListObservations(_ context.Context, q weather.ObservationQuery) ([]weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Observation
	for _, o := range s.observations {
		if !matches(o, q) {
			continue
		}
		result = append(result, o)
	}
	sortObservations(result)
	return result, nil
}

// UpsertCalls reports how many times UpsertObservations was called.
func (s *MemoryStore) UpsertCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

func matches(o weather.Observation, q weather.ObservationQuery) bool {
	if q.LocationID != "" && o.LocationID != q.LocationID {
		return false
	}
	if q.DataType != "" && o.DataType != q.DataType {
		return false
	}
	if !q.CreatedSince.IsZero() && o.CreatedAt.Before(q.CreatedSince) {
		return false
	}
	if q.DailyOnly && !o.IsDaily() {
		return false
	}
	return true
}

func sortObservations(obs []weather.Observation) {
	sort.Slice(obs, func(i, j int) bool {
		a, b := obs[i].Key(), obs[j].Key()
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		return a.DataType < b.DataType
	})
}
