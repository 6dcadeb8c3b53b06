package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	JWTSecret   string

	// External generation engine.
	WorkerBaseURL string
	WorkerAPIKey  string
	WorkerTimeout time.Duration

	// Shared secret the engine presents on callbacks.
	CallbackAPIKey string

	// Optional YAML override for the per-kind cost table.
	CostTablePath string

	GeoIPDBPath    string
	AllowedOrigins []string

	RateLimitPerMin int
	DefaultLocale   string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Reconciliation sweep (cmd/sweeper).
	SweepInterval time.Duration
	SweepMaxAge   time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:       getEnvInt("DB_MIN_CONNS", 1),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		WorkerBaseURL:    os.Getenv("WORKER_BASE_URL"),
		WorkerAPIKey:     os.Getenv("WORKER_API_KEY"),
		WorkerTimeout:    time.Second * time.Duration(getEnvInt("WORKER_TIMEOUT_SECONDS", 30)),
		CallbackAPIKey:   os.Getenv("CALLBACK_API_KEY"),
		CostTablePath:    os.Getenv("COST_TABLE_PATH"),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 50),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		SweepInterval:    time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 300)),
		SweepMaxAge:      time.Second * time.Duration(getEnvInt("SWEEP_MAX_AGE_SECONDS", 3600)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WorkerBaseURL == "" {
		return nil, fmt.Errorf("WORKER_BASE_URL is required")
	}
	if cfg.CallbackAPIKey == "" {
		return nil, fmt.Errorf("CALLBACK_API_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
