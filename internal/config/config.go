package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"touristguard/internal/alert"
)

type Config struct {
	LogLevel        slog.Level
	LogFormat       string
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	ZonesFile     string
	TileZoomLevel int
	MaxZoneTiles  int

	InactivityTimeout             time.Duration
	SuddenStopThresholdMeters     float64
	SuddenStopWindow              time.Duration
	RouteDeviationThresholdMeters float64
	TickInterval                  time.Duration

	AlertBuffer    int
	MaxAlerts      int
	AlertRetention time.Duration
	PruneInterval  time.Duration

	FeedEnabled      bool
	FeedURL          string
	FeedAPIKey       string
	FeedPollInterval time.Duration

	RedisEnabled     bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CacheTTL         time.Duration
	CacheWarmOnStart bool

	DatabaseEnabled bool
	DatabaseURL     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	BunDebug        bool

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
	TrustedProxies     []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getCSVEnv("ALLOWED_ORIGINS"),

		ZonesFile:     getEnv("ZONES_FILE", ""),
		TileZoomLevel: getIntEnv("TILE_ZOOM_LEVEL", 14),
		MaxZoneTiles:  getIntEnv("MAX_ZONE_TILES", 256),

		InactivityTimeout:             getSecondsEnv("INACTIVITY_TIMEOUT_SECONDS", 30*time.Minute),
		SuddenStopThresholdMeters:     getFloatEnv("SUDDEN_STOP_THRESHOLD_METERS", 5),
		SuddenStopWindow:              getSecondsEnv("SUDDEN_STOP_WINDOW_SECONDS", 2*time.Minute),
		RouteDeviationThresholdMeters: getFloatEnv("ROUTE_DEVIATION_THRESHOLD_METERS", 500),
		TickInterval:                  getDurationEnv("TICK_INTERVAL", 30*time.Second),

		AlertBuffer:    getIntEnv("ALERT_BUFFER", 1024),
		MaxAlerts:      getIntEnv("MAX_ALERTS", 10000),
		AlertRetention: getDurationEnv("ALERT_RETENTION", 24*time.Hour),
		PruneInterval:  getDurationEnv("PRUNE_INTERVAL", 10*time.Minute),

		FeedEnabled:      getBoolEnv("FEED_ENABLED", false),
		FeedURL:          getEnv("FEED_URL", ""),
		FeedAPIKey:       getEnv("FEED_API_KEY", ""),
		FeedPollInterval: getDurationEnv("FEED_POLL_INTERVAL", 10*time.Second),

		RedisEnabled:     getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getIntEnv("REDIS_DB", 0),
		CacheTTL:         getDurationEnv("CACHE_TTL", 24*time.Hour),
		CacheWarmOnStart: getBoolEnv("CACHE_WARM_ON_START", true),

		DatabaseEnabled: getBoolEnv("DATABASE_ENABLED", false),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		DBMaxOpenConns:  getIntEnv("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:  getIntEnv("DB_MAX_IDLE_CONNS", 5),
		BunDebug:        getBoolEnv("BUN_DEBUG", false),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
		TrustedProxies:     getCSVEnv("TRUSTED_PROXIES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.AlertConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL must be positive"))
	}
	if c.TileZoomLevel < 0 || c.TileZoomLevel > 22 {
		errs = append(errs, fmt.Errorf("TILE_ZOOM_LEVEL must be within [0,22], got %d", c.TileZoomLevel))
	}
	if c.FeedEnabled && c.FeedURL == "" {
		errs = append(errs, fmt.Errorf("FEED_URL is required when FEED_ENABLED is set"))
	}
	if c.DatabaseEnabled && c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required when DATABASE_ENABLED is set"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// AlertConfig returns the evaluator thresholds.
func (c *Config) AlertConfig() alert.Config {
	return alert.Config{
		InactivityTimeout:             c.InactivityTimeout,
		SuddenStopThresholdMeters:     c.SuddenStopThresholdMeters,
		SuddenStopWindow:              c.SuddenStopWindow,
		RouteDeviationThresholdMeters: c.RouteDeviationThresholdMeters,
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getSecondsEnv reads a whole or fractional number of seconds.
func getSecondsEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
