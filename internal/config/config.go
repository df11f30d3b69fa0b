package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Vector-Split application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Stats      StatsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxConns     int
	MinConns     int
	ConnLifetime time.Duration
	ConnIdleTime time.Duration
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// ClickHouseConfig configures the optional raw event log.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled    bool
	TrackRPS   float64
	TrackBurst int
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

// GeoConfig configures GeoIP country resolution for assignment context.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// StatsConfig holds the tunables of the statistics engine.
type StatsConfig struct {
	// CostRatio is the share of revenue treated as cost when deriving
	// profit per visitor.
	CostRatio float64
	// ConfidenceLevel selects the confidence interval width (0.95 or 0.99).
	ConfidenceLevel float64
	// ProjectionWindowDays is the observation window assumed when
	// estimating daily visitors for monthly impact projections.
	ProjectionWindowDays int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("VECTOR_SPLIT_HTTP_ADDR", ":8080"),
			Env:             getEnv("VECTOR_SPLIT_ENV", "development"),
			ShutdownTimeout: getDurationEnv("VECTOR_SPLIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("VECTOR_SPLIT_DB_HOST", "localhost"),
			Port:     getIntEnv("VECTOR_SPLIT_DB_PORT", 5432),
			User:     getEnv("VECTOR_SPLIT_DB_USER", "vectorsplit"),
			Password: getEnv("VECTOR_SPLIT_DB_PASSWORD", "vectorsplit_secret"),
			DBName:   getEnv("VECTOR_SPLIT_DB_NAME", "vectorsplit"),
			SSLMode:  getEnv("VECTOR_SPLIT_DB_SSLMODE", "disable"),
			MaxConns:     getIntEnv("VECTOR_SPLIT_DB_MAX_CONNS", 25),
			MinConns:     getIntEnv("VECTOR_SPLIT_DB_MIN_CONNS", 5),
			ConnLifetime: getDurationEnv("VECTOR_SPLIT_DB_CONN_LIFETIME", time.Hour),
			ConnIdleTime: getDurationEnv("VECTOR_SPLIT_DB_CONN_IDLE", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:        getEnv("VECTOR_SPLIT_REDIS_ADDR", "localhost:6379"),
			Password:    getEnv("VECTOR_SPLIT_REDIS_PASSWORD", ""),
			DB:          getIntEnv("VECTOR_SPLIT_REDIS_DB", 0),
			PoolSize:    getIntEnv("VECTOR_SPLIT_REDIS_POOL_SIZE", 50),
			DialTimeout: getDurationEnv("VECTOR_SPLIT_REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("VECTOR_SPLIT_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("VECTOR_SPLIT_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("VECTOR_SPLIT_CLICKHOUSE_DB", "vectorsplit"),
			User:     getEnv("VECTOR_SPLIT_CLICKHOUSE_USER", "default"),
			Password: getEnv("VECTOR_SPLIT_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("VECTOR_SPLIT_AUTH_ENABLED", true),
			MasterKey: getEnv("VECTOR_SPLIT_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("VECTOR_SPLIT_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/track/impression", "/track/click", "/track/conversion"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("VECTOR_SPLIT_RATE_LIMIT_ENABLED", true),
			TrackRPS:   getFloatEnv("VECTOR_SPLIT_RATE_LIMIT_TRACK_RPS", 1000),
			TrackBurst: getIntEnv("VECTOR_SPLIT_RATE_LIMIT_TRACK_BURST", 100),
			MgmtRPS:    getFloatEnv("VECTOR_SPLIT_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst:  getIntEnv("VECTOR_SPLIT_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("VECTOR_SPLIT_LOG_LEVEL", "info"),
			Format: getEnv("VECTOR_SPLIT_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("VECTOR_SPLIT_METRICS_ENABLED", true),
			Path:    getEnv("VECTOR_SPLIT_METRICS_PATH", "/metrics"),
			Port:    getEnv("VECTOR_SPLIT_METRICS_PORT", "9090"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("VECTOR_SPLIT_GEO_ENABLED", false),
			DatabasePath: getEnv("VECTOR_SPLIT_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Stats: StatsConfig{
			CostRatio:            getFloatEnv("VECTOR_SPLIT_STATS_COST_RATIO", 0.60),
			ConfidenceLevel:      getFloatEnv("VECTOR_SPLIT_STATS_CONFIDENCE", 0.95),
			ProjectionWindowDays: getIntEnv("VECTOR_SPLIT_STATS_PROJECTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("VECTOR_SPLIT_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Stats.CostRatio < 0 || c.Stats.CostRatio >= 1 {
		return fmt.Errorf("VECTOR_SPLIT_STATS_COST_RATIO must be in [0,1), got %v", c.Stats.CostRatio)
	}
	if c.Stats.ProjectionWindowDays <= 0 {
		return fmt.Errorf("VECTOR_SPLIT_STATS_PROJECTION_DAYS must be positive, got %d", c.Stats.ProjectionWindowDays)
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

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
