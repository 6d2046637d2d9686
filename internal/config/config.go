// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, the exchange window, quota limits, sweep schedules,
// rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ExchangeConfig defines the exchange-lifecycle parameters.
type ExchangeConfig struct {
	Window       time.Duration // posting window after acceptance
	BanThreshold int           // strikes at which a user is banned
}

// QuotaConfig defines per-plan daily limits and media permissions.
type QuotaConfig struct {
	BasicDailyLimit int
	ProDailyLimit   int
	// BasicMediaTypes lists media types BASIC users may request;
	// PRO users may request everything.
	BasicMediaTypes []string
}

// SweepConfig defines the background job schedule.
type SweepConfig struct {
	Interval         time.Duration // expiry sweep cadence
	ReminderInterval time.Duration // reminder pass cadence
	ReminderWindow   time.Duration // notify sides expiring within this horizon
	BatchLimit       int           // max due exchanges per sweep run
}

// SocialRateConfig defines the token bucket guarding external social API calls.
type SocialRateConfig struct {
	Capacity     float64 // max tokens per external identity
	RefillPerSec float64 // tokens replenished per second
	RedisAddr    string  // optional; empty means the DB-backed store
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath   string
	Exchange ExchangeConfig
	Quota    QuotaConfig
	Sweep    SweepConfig
	Social   SocialRateConfig

	// Edge rate limiting (per caller, HTTP layer)
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath: getenv("DB_PATH", "app.db"),
		Exchange: ExchangeConfig{
			Window:       getdur("EXCHANGE_WINDOW", 24*time.Hour),
			BanThreshold: getint("BAN_THRESHOLD", 3),
		},
		Quota: QuotaConfig{
			BasicDailyLimit: getint("QUOTA_BASIC_DAILY", 10),
			ProDailyLimit:   getint("QUOTA_PRO_DAILY", 50),
			BasicMediaTypes: splitCSV(getenv("QUOTA_BASIC_MEDIA", "post,story")),
		},
		Sweep: SweepConfig{
			Interval:         getdur("SWEEP_INTERVAL", time.Minute),
			ReminderInterval: getdur("REMINDER_INTERVAL", 5*time.Minute),
			ReminderWindow:   getdur("REMINDER_WINDOW", 2*time.Hour),
			BatchLimit:       getint("SWEEP_BATCH_LIMIT", 500),
		},
		Social: SocialRateConfig{
			Capacity:     getfloat("SOCIAL_RATE_CAPACITY", 30),
			RefillPerSec: getfloat("SOCIAL_RATE_REFILL", 0.5),
			RedisAddr:    getenv("SOCIAL_RATE_REDIS_ADDR", ""),
		},

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-shoutout-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Exchange.Window <= 0 {
		return cfg, errors.New("EXCHANGE_WINDOW must be > 0")
	}
	if cfg.Exchange.BanThreshold < 1 {
		return cfg, errors.New("BAN_THRESHOLD must be >= 1")
	}
	if cfg.Quota.BasicDailyLimit < 1 || cfg.Quota.ProDailyLimit < 1 {
		return cfg, errors.New("quota daily limits must be >= 1")
	}
	if cfg.Sweep.Interval <= 0 || cfg.Sweep.ReminderInterval <= 0 {
		return cfg, errors.New("sweep intervals must be positive durations")
	}
	if cfg.Sweep.ReminderWindow <= 0 {
		return cfg, errors.New("REMINDER_WINDOW must be > 0")
	}
	if cfg.Sweep.BatchLimit < 1 {
		return cfg, errors.New("SWEEP_BATCH_LIMIT must be >= 1")
	}
	if cfg.Social.Capacity <= 0 {
		return cfg, errors.New("SOCIAL_RATE_CAPACITY must be > 0")
	}
	if cfg.Social.RefillPerSec <= 0 {
		return cfg, errors.New("SOCIAL_RATE_REFILL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
