package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the ad ledger service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Scheduler  SchedulerConfig
	Reporting  ReportingConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional impression archive.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type RateLimitConfig struct {
	Enabled    bool
	ServeRPS   float64
	ServeBurst int
	MgmtRPS    float64
	MgmtBurst  int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
	Port    string
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// SchedulerConfig configures the background sweeps.
type SchedulerConfig struct {
	Enabled           bool
	SweepInterval     time.Duration
	RecomputeInterval time.Duration
	ArchiveAfter      time.Duration
}

// ReportingConfig configures the performance aggregator.
type ReportingConfig struct {
	CacheTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("ADLEDGER_HTTP_ADDR", ":8080"),
			Env:             getEnv("ADLEDGER_ENV", "development"),
			ShutdownTimeout: getDurationEnv("ADLEDGER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("ADLEDGER_DB_HOST", "localhost"),
			Port:     getIntEnv("ADLEDGER_DB_PORT", 5432),
			User:     getEnv("ADLEDGER_DB_USER", "adledger"),
			Password: getEnv("ADLEDGER_DB_PASSWORD", "adledger_secret"),
			DBName:   getEnv("ADLEDGER_DB_NAME", "adledger"),
			SSLMode:  getEnv("ADLEDGER_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("ADLEDGER_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("ADLEDGER_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("ADLEDGER_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ADLEDGER_REDIS_PASSWORD", ""),
			DB:       getIntEnv("ADLEDGER_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("ADLEDGER_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("ADLEDGER_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("ADLEDGER_CLICKHOUSE_DB", "adledger"),
			User:     getEnv("ADLEDGER_CLICKHOUSE_USER", "default"),
			Password: getEnv("ADLEDGER_CLICKHOUSE_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("ADLEDGER_RATE_LIMIT_ENABLED", true),
			ServeRPS:   getFloatEnv("ADLEDGER_RATE_LIMIT_SERVE_RPS", 1000),
			ServeBurst: getIntEnv("ADLEDGER_RATE_LIMIT_SERVE_BURST", 100),
			MgmtRPS:    getFloatEnv("ADLEDGER_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst:  getIntEnv("ADLEDGER_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("ADLEDGER_LOG_LEVEL", "info"),
			Format: getEnv("ADLEDGER_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("ADLEDGER_METRICS_ENABLED", true),
			Path:    getEnv("ADLEDGER_METRICS_PATH", "/metrics"),
			Port:    getEnv("ADLEDGER_METRICS_PORT", "9090"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("ADLEDGER_GEO_ENABLED", false),
			DatabasePath: getEnv("ADLEDGER_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
			CacheSize:    getIntEnv("ADLEDGER_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("ADLEDGER_GEO_CACHE_TTL", 1*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Enabled:           getBoolEnv("ADLEDGER_SCHEDULER_ENABLED", true),
			SweepInterval:     getDurationEnv("ADLEDGER_SCHEDULER_SWEEP_INTERVAL", time.Minute),
			RecomputeInterval: getDurationEnv("ADLEDGER_SCHEDULER_RECOMPUTE_INTERVAL", 10*time.Minute),
			ArchiveAfter:      getDurationEnv("ADLEDGER_SCHEDULER_ARCHIVE_AFTER", 30*24*time.Hour),
		},
		Reporting: ReportingConfig{
			CacheTTL: getDurationEnv("ADLEDGER_REPORTING_CACHE_TTL", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.Scheduler.SweepInterval <= 0 || c.Scheduler.RecomputeInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
