package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	Port        string
	Environment string

	// Retailer storefront API
	WebstoreBaseURL string
	WebstoreAPIKey  string

	// Scheduler tick periods per tier
	FastPeriod    time.Duration
	MediumPeriod  time.Duration
	SlowPeriod    time.Duration
	CleanupPeriod time.Duration

	// Probe result retention before the cleanup tier evicts an entry
	CacheRetention time.Duration

	// Purchase execution
	ExecutorCapacity int
	MaxAttempts      int
	RetryCooldown    time.Duration
	MinStepDelay     time.Duration
	MaxStepDelay     time.Duration
	DryRun           bool

	// Whether a failed probe may fall back to the last cached result
	// ("skip" or "last_known")
	ProbeFallback string

	// Optional outward notification webhook
	NotifyWebhookURL string
}

func Load() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		WebstoreBaseURL: getEnv("WEBSTORE_BASE_URL", "https://api.webstore.example.com"),
		WebstoreAPIKey:  getEnv("WEBSTORE_API_KEY", ""),

		FastPeriod:    getDuration("FAST_PERIOD", 5*time.Minute),
		MediumPeriod:  getDuration("MEDIUM_PERIOD", 15*time.Minute),
		SlowPeriod:    getDuration("SLOW_PERIOD", 60*time.Minute),
		CleanupPeriod: getDuration("CLEANUP_PERIOD", 6*time.Hour),

		CacheRetention: getDuration("CACHE_RETENTION", 24*time.Hour),

		ExecutorCapacity: getInt("EXECUTOR_CAPACITY", 3),
		MaxAttempts:      getInt("MAX_ATTEMPTS", 3),
		RetryCooldown:    getDuration("RETRY_COOLDOWN", 10*time.Minute),
		MinStepDelay:     getDuration("MIN_STEP_DELAY", 2*time.Second),
		MaxStepDelay:     getDuration("MAX_STEP_DELAY", 8*time.Second),
		DryRun:           getBool("DRY_RUN", false),

		ProbeFallback: getEnv("PROBE_FALLBACK", "skip"),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
