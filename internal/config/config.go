package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds all configuration for the backend service
type Config struct {
	// Environment
	Env  string
	Port string

	// Storage
	StoreBackend string
	DatabaseURL  string

	// Redis
	RedisURL string

	// Security
	APIKey    string
	JWTSecret string

	// CORS
	CORSOrigins string

	// Error tracking
	SentryDSN string

	// Scrunch AI
	ScrunchURL    string
	ScrunchAPIKey string

	// Google Analytics 4
	GA4URL    string
	GA4APIKey string

	// Agency Analytics
	AgencyAnalyticsURL    string
	AgencyAnalyticsAPIKey string

	ProviderRequestsPerSecond float64

	// Sync settings
	MaxConcurrentJobs    int
	SyncLookbackDays     int
	KPIWindowDays        int
	SharedPropertyRatio  float64
	AutoSyncEnabled      bool
	AutoSyncInterval     int // in minutes
	JobRetentionDays     int
	SyncWebhookURL       string
	SyncTriggerRateLimit int // per user per minute
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env:          getEnv("ENV", "development"),
		Port:         getEnv("BACKEND_PORT", "8080"),
		StoreBackend: getEnv("STORE_BACKEND", StoreBackendPostgres),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     getEnv("REDIS_URL", "localhost:6379"),
		APIKey:       os.Getenv("BACKEND_API_KEY"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		SentryDSN:    os.Getenv("SENTRY_DSN"),

		// Providers
		ScrunchURL:                os.Getenv("SCRUNCH_URL"),
		ScrunchAPIKey:             os.Getenv("SCRUNCH_API_KEY"),
		GA4URL:                    os.Getenv("GA4_URL"),
		GA4APIKey:                 os.Getenv("GA4_API_KEY"),
		AgencyAnalyticsURL:        os.Getenv("AGENCY_ANALYTICS_URL"),
		AgencyAnalyticsAPIKey:     os.Getenv("AGENCY_ANALYTICS_API_KEY"),
		ProviderRequestsPerSecond: getEnvFloat("PROVIDER_REQUESTS_PER_SECOND", 5),

		// Sync
		MaxConcurrentJobs:    getEnvInt("MAX_CONCURRENT_JOBS", 4),
		SyncLookbackDays:     getEnvInt("SYNC_LOOKBACK_DAYS", 30),
		KPIWindowDays:        getEnvInt("KPI_WINDOW_DAYS", 30),
		SharedPropertyRatio:  getEnvFloat("SHARED_PROPERTY_RATIO", 2.0),
		AutoSyncEnabled:      getEnvBool("AUTO_SYNC_ENABLED", false),
		AutoSyncInterval:     getEnvInt("AUTO_SYNC_INTERVAL", 60),
		JobRetentionDays:     getEnvInt("JOB_RETENTION_DAYS", 90),
		SyncWebhookURL:       os.Getenv("SYNC_WEBHOOK_URL"),
		SyncTriggerRateLimit: getEnvInt("SYNC_TRIGGER_RATE_LIMIT", 10),
	}

	// Validate required fields
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
	case StoreBackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.MaxConcurrentJobs < 1 {
		return nil, errors.New("MAX_CONCURRENT_JOBS must be at least 1")
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with ENV=production.
func (cfg *Config) IsProduction() bool {
	return cfg.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// Source lists runtime overrides, keyed by lower-case setting name.
type Source interface {
	GetAllConfigs(ctx context.Context) (map[string]string, error)
}

// MergeFromDB applies overrides stored in the `config` table. Values stored
// in the DB overwrite the corresponding fields when they parse; invalid
// values are logged and ignored.
func (cfg *Config) MergeFromDB(ctx context.Context, src Source) error {
	values, err := src.GetAllConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config overrides: %w", err)
	}

	positive := func(key string, dst *int) {
		if n, err := strconv.Atoi(values[key]); err == nil && n > 0 {
			*dst = n
		} else {
			log.Warn().Str("key", key).Str("value", values[key]).Msg("Ignoring invalid config override")
		}
	}

	for key, value := range values {
		switch key {
		case "max_concurrent_jobs":
			positive(key, &cfg.MaxConcurrentJobs)
		case "sync_lookback_days":
			positive(key, &cfg.SyncLookbackDays)
		case "kpi_window_days":
			positive(key, &cfg.KPIWindowDays)
		case "job_retention_days":
			positive(key, &cfg.JobRetentionDays)
		case "auto_sync_interval":
			positive(key, &cfg.AutoSyncInterval)
		case "sync_trigger_rate_limit":
			positive(key, &cfg.SyncTriggerRateLimit)
		case "auto_sync_enabled":
			cfg.AutoSyncEnabled = value == "true" || value == "1"
		case "shared_property_ratio":
			if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
				cfg.SharedPropertyRatio = f
			} else {
				log.Warn().Str("key", key).Str("value", value).Msg("Ignoring invalid config override")
			}
		case "provider_requests_per_second":
			if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
				cfg.ProviderRequestsPerSecond = f
			}
		case "sync_webhook_url":
			if value != "" {
				cfg.SyncWebhookURL = value
			}
		}
	}

	return nil
}
