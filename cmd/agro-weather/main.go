package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/agro-weather/internal/api/http"
	"github.com/i474232898/agro-weather/internal/config"
	"github.com/i474232898/agro-weather/internal/insights"
	"github.com/i474232898/agro-weather/internal/location"
	"github.com/i474232898/agro-weather/internal/logging"
	"github.com/i474232898/agro-weather/internal/scheduler"
	"github.com/i474232898/agro-weather/internal/store"
	"github.com/i474232898/agro-weather/internal/weather"
	"github.com/i474232898/agro-weather/internal/weather/providers"
)

// appStore is what the process needs from whichever store backend is configured.
type appStore interface {
	weather.Store
	weather.OwnerDirectory
	SaveOwner(ctx context.Context, o weather.Owner) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("failed to load config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logging.Fatalf("failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer closeStore()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	descs := config.LoadProviders(cfg.ProvidersFile)
	registry := weather.NewRegistry(descs, providers.NewFactory(httpClient), cfg.Weather.ProviderTimeout)

	var (
		geo     location.Geocoder
		reverse location.ReverseGeocoder
	)
	if cfg.Geocoder.GoogleAPIKey != "" {
		g := location.NewGoogleGeocoder(cfg.Geocoder.GoogleAPIKey, cfg.Geocoder.RequestsPerSecond)
		geo, reverse = g, g
	} else {
		slog.Warn("GOOGLE_GEOCODING_API_KEY not set; owners resolve to country centroids")
	}
	resolver := location.NewResolver(st, st, geo, reverse)

	var gen weather.InsightGenerator
	if cfg.Insights.URL != "" {
		gen = insights.NewClient(&http.Client{Timeout: cfg.Insights.Timeout},
			cfg.Insights.URL, cfg.Insights.APIKey, cfg.Insights.Model)
	}

	service := weather.NewService(st, registry, resolver, gen, weather.Options{
		CacheTTL:        cfg.Weather.CacheTTL,
		ForecastDays:    cfg.Weather.ForecastDays,
		KeepHourly:      cfg.Weather.KeepHourly,
		MaxBatch:        cfg.Weather.BulkMaxBatch,
		BulkConcurrency: cfg.Weather.BulkConcurrency,
	})

	// Scheduler that periodically refreshes monitoring points.
	sched := scheduler.New(st, service, cfg.Scheduler.Interval)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			logging.Fatalf("failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "agro-weather",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          60 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Service: service,
		Owners:  st,
		Points:  sched,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("http server listening", "addr", addr, "store", cfg.Store.Driver, "degraded", registry.Degraded())
		if err := app.Listen(addr); err != nil {
			slog.Error("fiber server stopped", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (appStore, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		s, err := store.NewSQLiteStore(cfg.SQLitePath, cfg.MaxAge)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.MaxAge)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return store.NewMemoryStore(cfg.MaxAge), func() {}, nil
	}
}
