package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/agro-weather/internal/location"
	"github.com/i474232898/agro-weather/internal/weather"
)

const (
	defaultInterval = time.Hour
	// pointTimeout bounds the refresh of a single monitoring point.
	pointTimeout = 60 * time.Second
	// maxConcurrentPoints caps parallel refreshes so providers are not burst.
	maxConcurrentPoints = 4
)

// LocationLister lists every stored location.
type LocationLister interface {
	ListLocations(ctx context.Context) ([]weather.WeatherLocation, error)
}

// Refresher fetches and stores the forecast of one monitoring point.
type Refresher interface {
	RefreshMonitoringPoint(ctx context.Context, mp weather.MonitoringPoint) error
}

// Scheduler periodically clusters stored locations into monitoring points and
// refreshes each point's forecast.
type Scheduler struct {
	scheduler *gocron.Scheduler
	locations LocationLister
	refresher Refresher
	interval  time.Duration
}

// New creates a new Scheduler.
func New(locations LocationLister, refresher Refresher, interval time.Duration) *Scheduler {
	if interval < time.Minute {
		interval = defaultInterval
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		locations: locations,
		refresher: refresher,
		interval:  interval,
	}
}

// Start schedules the periodic refresh job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(int(s.interval.Minutes())).Minutes().Do(func() {
		ctx := context.Background()
		if err := s.RunOnce(ctx); err != nil {
			slog.Warn("scheduler: refresh finished with errors", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh job: %w", err)
	}

	s.scheduler.StartAsync()
	slog.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// MonitoringPoints clusters the currently stored locations.
func (s *Scheduler) MonitoringPoints(ctx context.Context) ([]weather.MonitoringPoint, error) {
	locs, err := s.locations.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return location.ClusterMonitoringPoints(locs), nil
}

// RunOnce refreshes every monitoring point once. A failing point does not stop
// the others; all failures are returned joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	points, err := s.MonitoringPoints(ctx)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		slog.Debug("scheduler: no locations stored; nothing to refresh")
		return nil
	}

	start := time.Now()
	errs := make([]error, len(points))

	var g errgroup.Group
	g.SetLimit(maxConcurrentPoints)
	for i, mp := range points {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, pointTimeout)
			defer cancel()

			if err := s.refresher.RefreshMonitoringPoint(pctx, mp); err != nil {
				slog.Warn("scheduler: monitoring point refresh failed", "point", mp.ID, "locations", len(mp.LocationIDs), "error", err)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	joined := errors.Join(errs...)
	slog.Info("scheduler: refresh completed", "points", len(points), "duration", time.Since(start), "failed", joined != nil)
	return joined
}
