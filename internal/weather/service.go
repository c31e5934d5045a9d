package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Options tune the orchestrator.
type Options struct {
	// CacheTTL is how long stored forecast records satisfy a request.
	CacheTTL time.Duration
	// ForecastDays is the horizon used when a caller does not choose one.
	ForecastDays int
	// KeepHourly also persists and returns the raw hourly samples.
	KeepHourly bool
	// MaxBatch bounds the number of owners in one bulk request.
	MaxBatch int
	// BulkConcurrency caps how many owners of a bulk request run at once.
	BulkConcurrency int
}

// DefaultOptions returns the orchestrator defaults.
func DefaultOptions() Options {
	return Options{
		CacheTTL:        3 * time.Hour,
		ForecastDays:    5,
		MaxBatch:        50,
		BulkConcurrency: 8,
	}
}

// Service orchestrates location resolution, the forecast cache, provider
// failover, aggregation and persistence.
type Service struct {
	store    Store
	registry *Registry
	resolver LocationResolver
	insights InsightGenerator
	opts     Options
	now      func() time.Time
}

// NewService creates a new Service. insights may be nil, in which case insight
// requests degrade to a generic insight.
func NewService(store Store, registry *Registry, resolver LocationResolver, insights InsightGenerator, opts Options) *Service {
	def := DefaultOptions()
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = def.ForecastDays
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = def.MaxBatch
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = def.BulkConcurrency
	}
	return &Service{
		store:    store,
		registry: registry,
		resolver: resolver,
		insights: insights,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service clock; used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Registry exposes the provider registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// GetWeather returns the daily forecast for a stored location using the default horizon.
func (s *Service) GetWeather(ctx context.Context, locationID string) ([]Observation, error) {
	f, err := s.GetForecast(ctx, locationID, s.opts.ForecastDays)
	if err != nil {
		return nil, err
	}
	return f.Daily, nil
}

// GetForecast returns cached daily forecast records when fresh records cover the
// requested horizon, otherwise fetches through the registry, aggregates the
// hourly samples and persists the result.
func (s *Service) GetForecast(ctx context.Context, locationID string, days int) (Forecast, error) {
	if days <= 0 {
		return Forecast{}, fmt.Errorf("days must be greater than zero")
	}

	loc, err := s.store.GetLocation(ctx, locationID)
	if err != nil {
		return Forecast{}, err
	}

	if cached, ok := s.cachedForecast(ctx, loc.ID, days); ok {
		slog.Debug("forecast cache hit", "location", loc.ID, "days", days)
		return cached, nil
	}

	return s.fetchForecast(ctx, loc, days)
}

func (s *Service) cachedForecast(ctx context.Context, locationID string, days int) (Forecast, bool) {
	records, err := s.store.ListObservations(ctx, ObservationQuery{
		LocationID:   locationID,
		DataType:     DataTypeForecast,
		CreatedSince: s.now().Add(-s.opts.CacheTTL),
		DailyOnly:    true,
	})
	if err != nil {
		slog.Warn("forecast cache lookup failed", "location", locationID, "error", err)
		return Forecast{}, false
	}

	// The requested horizon is part of the cache key: fresh rows only count as a
	// hit when they cover at least as many dates as were asked for.
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	if len(records) < days {
		return Forecast{}, false
	}
	records = records[:days]

	return Forecast{
		LocationID: locationID,
		Provider:   records[0].Provider,
		Cached:     true,
		Daily:      records,
	}, true
}

func (s *Service) fetchForecast(ctx context.Context, loc WeatherLocation, days int) (Forecast, error) {
	res, err := s.registry.FetchWithFailover(ctx, FetchRequest{
		Method: MethodForecast,
		Lat:    loc.Latitude,
		Lon:    loc.Longitude,
		Days:   days,
	})
	if err != nil {
		return Forecast{}, err
	}

	f := s.buildForecast(loc.ID, res)
	if len(f.Daily) > days {
		f.Daily = f.Daily[:days]
	}
	s.persist(ctx, f)
	return f, nil
}

func (s *Service) buildForecast(locationID string, res FetchResult) Forecast {
	created := s.now()
	hourly := make([]Observation, len(res.Observations))
	for i, o := range res.Observations {
		o.LocationID = locationID
		o.DataType = DataTypeForecast
		o.CreatedAt = created
		if o.Hour == nil {
			o.Hour = HourPtr(o.Timestamp.Hour())
		}
		o.Date = DateOf(o.Timestamp)
		hourly[i] = o
	}

	f := Forecast{
		LocationID: locationID,
		Provider:   res.Provider,
		Daily:      AggregateDaily(hourly),
	}
	if s.opts.KeepHourly {
		f.Hourly = hourly
	}
	return f
}

func (s *Service) persist(ctx context.Context, f Forecast) {
	records := append([]Observation{}, f.Daily...)
	records = append(records, f.Hourly...)
	if err := s.store.UpsertObservations(ctx, records); err != nil {
		slog.Error("failed to persist forecast", "location", f.LocationID, "records", len(records), "error", err)
	}
}

// GetWeatherForOwner resolves the owner's primary location and returns its forecast.
func (s *Service) GetWeatherForOwner(ctx context.Context, ownerID, crop string) (Report, error) {
	loc, err := s.resolver.Resolve(ctx, ownerID)
	if err != nil {
		return Report{}, err
	}
	return s.report(ctx, loc, crop)
}

// GetWeatherByCoordinates resolves (or creates) a location for the coordinates
// and returns its forecast.
func (s *Service) GetWeatherByCoordinates(ctx context.Context, lat, lon float64) (Report, error) {
	if !ValidateCoordinates(lat, lon) {
		return Report{}, fmt.Errorf("%w: lat=%f lon=%f", ErrInvalidCoordinates, lat, lon)
	}
	loc, err := s.resolver.ResolveCoordinates(ctx, lat, lon)
	if err != nil {
		return Report{}, err
	}
	return s.report(ctx, loc, "")
}

func (s *Service) report(ctx context.Context, loc WeatherLocation, crop string) (Report, error) {
	f, err := s.GetForecast(ctx, loc.ID, s.opts.ForecastDays)
	if err != nil {
		return Report{}, err
	}
	suitable := loc.CropSuitable
	if len(f.Daily) > 0 {
		suitable = suitable && f.Daily[0].CropSuitable()
	}
	return Report{
		Location:     loc,
		Crop:         crop,
		CropSuitable: suitable,
		Forecast:     f,
	}, nil
}

// GetCurrent fetches current conditions for a stored location and persists them.
func (s *Service) GetCurrent(ctx context.Context, locationID string) (Observation, error) {
	loc, err := s.store.GetLocation(ctx, locationID)
	if err != nil {
		return Observation{}, err
	}
	res, err := s.registry.FetchWithFailover(ctx, FetchRequest{
		Method: MethodCurrent,
		Lat:    loc.Latitude,
		Lon:    loc.Longitude,
	})
	if err != nil {
		return Observation{}, err
	}

	o := res.Observations[0]
	o.LocationID = loc.ID
	o.DataType = DataTypeCurrent
	o.Date = DateOf(o.Timestamp)
	o.Hour = HourPtr(o.Timestamp.Hour())
	o.CreatedAt = s.now()
	if err := s.store.UpsertObservations(ctx, []Observation{o}); err != nil {
		slog.Error("failed to persist current observation", "location", loc.ID, "error", err)
	}
	return o, nil
}

// GetHistorical fetches historical hourly data for a stored location, aggregates
// it per day and persists the daily records.
func (s *Service) GetHistorical(ctx context.Context, locationID string, start, end time.Time) ([]Observation, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end must not be before start")
	}
	loc, err := s.store.GetLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	res, err := s.registry.FetchWithFailover(ctx, FetchRequest{
		Method: MethodHistorical,
		Lat:    loc.Latitude,
		Lon:    loc.Longitude,
		Start:  start,
		End:    end,
	})
	if err != nil {
		return nil, err
	}

	f := s.buildForecast(loc.ID, res)
	for i := range f.Daily {
		f.Daily[i].DataType = DataTypeHistorical
	}
	for i := range f.Hourly {
		f.Hourly[i].DataType = DataTypeHistorical
	}
	s.persist(ctx, f)
	return f.Daily, nil
}

// RefreshMonitoringPoint fetches one forecast at the point's centroid and stores
// the aggregated daily records for every contributing location.
func (s *Service) RefreshMonitoringPoint(ctx context.Context, mp MonitoringPoint) error {
	if len(mp.LocationIDs) == 0 {
		return nil
	}
	res, err := s.registry.FetchWithFailover(ctx, FetchRequest{
		Method: MethodForecast,
		Lat:    mp.Latitude,
		Lon:    mp.Longitude,
		Days:   s.opts.ForecastDays,
	})
	if err != nil {
		return fmt.Errorf("refresh monitoring point %s: %w", mp.ID, err)
	}

	var errs []error
	for _, id := range mp.LocationIDs {
		f := s.buildForecast(id, res)
		records := append([]Observation{}, f.Daily...)
		records = append(records, f.Hourly...)
		if err := s.store.UpsertObservations(ctx, records); err != nil {
			errs = append(errs, fmt.Errorf("location %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
