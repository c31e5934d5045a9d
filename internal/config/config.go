package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Store     StoreConfig
	Weather   WeatherConfig
	Geocoder  GeocoderConfig
	Insights  InsightsConfig
	Scheduler SchedulerConfig

	// ProvidersFile is the YAML file holding provider descriptors.
	ProvidersFile string

	// HTTPTimeout bounds every outbound request made by provider clients.
	HTTPTimeout time.Duration
}

type ServerConfig struct {
	Port int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Driver      string // memory, sqlite or postgres
	SQLitePath  string
	PostgresDSN string
	MaxAge      time.Duration // 0 keeps observations forever
}

type WeatherConfig struct {
	CacheTTL        time.Duration
	ForecastDays    int
	KeepHourly      bool
	BulkMaxBatch    int
	BulkConcurrency int
	ProviderTimeout time.Duration
}

type GeocoderConfig struct {
	GoogleAPIKey      string
	RequestsPerSecond float64
}

type InsightsConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads configuration from the environment (and an optional .env file)
// with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}

	cfg := &AppConfig{
		Server: ServerConfig{
			Port: getenvInt("PORT", 8080),
		},
		Logging: LoggingConfig{
			Level:  getenvDefault("LOG_LEVEL", "info"),
			Format: getenvDefault("LOG_FORMAT", "json"),
		},
		Store: StoreConfig{
			Driver:      getenvDefault("STORE_DRIVER", "memory"),
			SQLitePath:  getenvDefault("SQLITE_PATH", "./data/agro-weather.db"),
			PostgresDSN: os.Getenv("DATABASE_URL"),
			MaxAge:      getenvDuration("STORE_MAX_AGE", 30*24*time.Hour),
		},
		Weather: WeatherConfig{
			CacheTTL:        getenvDuration("WEATHER_CACHE_TTL", 3*time.Hour),
			ForecastDays:    getenvInt("WEATHER_FORECAST_DAYS", 5),
			KeepHourly:      getenvBool("WEATHER_KEEP_HOURLY", false),
			BulkMaxBatch:    getenvInt("WEATHER_BULK_MAX_BATCH", 50),
			BulkConcurrency: getenvInt("WEATHER_BULK_CONCURRENCY", 8),
			ProviderTimeout: getenvDuration("WEATHER_PROVIDER_TIMEOUT", 15*time.Second),
		},
		Geocoder: GeocoderConfig{
			GoogleAPIKey:      os.Getenv("GOOGLE_GEOCODING_API_KEY"),
			RequestsPerSecond: getenvFloat("GEOCODER_RPS", 5),
		},
		Insights: InsightsConfig{
			URL:     os.Getenv("INSIGHTS_URL"),
			APIKey:  os.Getenv("INSIGHTS_API_KEY"),
			Model:   getenvDefault("INSIGHTS_MODEL", "gpt-4o-mini"),
			Timeout: getenvDuration("INSIGHTS_TIMEOUT", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getenvBool("SCHEDULER_ENABLED", true),
			Interval: getenvDuration("SCHEDULER_INTERVAL", time.Hour),
		},
		ProvidersFile: getenvDefault("PROVIDERS_FILE", "providers.yaml"),
		HTTPTimeout:   getenvDuration("HTTP_TIMEOUT", 10*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid LOG_LEVEL: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid LOG_FORMAT: %s", c.Logging.Format)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %s", c.Store.Driver)
	}

	if c.Weather.CacheTTL <= 0 {
		return fmt.Errorf("WEATHER_CACHE_TTL must be positive")
	}
	if c.Weather.ForecastDays < 1 || c.Weather.ForecastDays > 16 {
		return fmt.Errorf("WEATHER_FORECAST_DAYS must be between 1 and 16, got %d", c.Weather.ForecastDays)
	}
	if c.Weather.BulkMaxBatch < 1 {
		return fmt.Errorf("WEATHER_BULK_MAX_BATCH must be at least 1")
	}
	if c.Weather.BulkConcurrency < 1 {
		return fmt.Errorf("WEATHER_BULK_CONCURRENCY must be at least 1")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval < time.Minute {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1 minute")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
