package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal core.
type Config struct {
	Port string

	// Producer trust anchors. INGEST_KEYS pairs "key:source" entries,
	// comma-separated; a single INGEST_API_KEY/INGEST_SOURCE pair is
	// accepted for backward compatibility.
	IngestKeys   []string
	IngestAPIKey string
	IngestSource string

	// Signal cache
	SignalCacheSize int

	// Database
	DBPath string

	// Execution
	ExecutionEnabled    bool
	PaperInitialCapital float64

	// Live broker backend
	BrokerBaseURL        string
	BrokerTimeout        time.Duration
	SessionCheckInterval time.Duration

	// Plans
	PlansPath string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		IngestKeys:           splitAndTrim(getEnv("INGEST_KEYS", "")),
		IngestAPIKey:         os.Getenv("INGEST_API_KEY"),
		IngestSource:         os.Getenv("INGEST_SOURCE"),
		SignalCacheSize:      getEnvInt("SIGNAL_CACHE_SIZE", 50),
		DBPath:               getEnv("DB_PATH", "./data/signals.db"),
		ExecutionEnabled:     getEnv("EXECUTION_ENABLED", "true") == "true",
		PaperInitialCapital:  getEnvFloat("PAPER_INITIAL_CAPITAL", 100000.0),
		BrokerBaseURL:        getEnv("BROKER_BASE_URL", ""),
		BrokerTimeout:        time.Duration(getEnvInt("BROKER_TIMEOUT_MS", 5000)) * time.Millisecond,
		SessionCheckInterval: time.Duration(getEnvInt("SESSION_CHECK_INTERVAL_S", 300)) * time.Second,
		PlansPath:            getEnv("PLANS_PATH", "plans.yaml"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
