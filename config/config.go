package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: nil when no store is configured (degraded mode)
	Auth          AuthConfig
	Workflow      WorkflowConfig
	Dispatch      DispatchConfig
	Quota         QuotaConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// AuthConfig holds session token validation settings.
// Token issuance belongs to the identity provider; this service only verifies.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// WorkflowConfig holds the workflow engine (n8n) webhook settings
type WorkflowConfig struct {
	BaseURL       string
	WebhookSecret string
	Timeout       time.Duration
	RateLimitRPS  float64
	RateBurst     int
}

// DispatchConfig holds the asynchronous dispatch queue settings
type DispatchConfig struct {
	Transport    string // http, redis or log
	BufferSize   int
	WorkerCount  int
	MaxRetries   int
	RetryBackoff time.Duration
	StopTimeout  time.Duration
	RedisURL     string
	RedisStream  string
}

const (
	// defaultMonthlyQuota matches the allowance increment_quota_used gives new rows
	defaultMonthlyQuota = 10

	// maxBatchRowsLimit is the hard cap on data rows per CSV upload
	maxBatchRowsLimit = 50
)

// QuotaConfig holds admission limits. MaxBatchRows may lower the batch cap
// but never raise it above 50.
type QuotaConfig struct {
	DefaultMonthlyQuota int
	MaxBatchRows        int
	MinutesPerAudit     int
	MaxParallelInserts  int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_ISSUER", ""),
		},
		Workflow: WorkflowConfig{
			BaseURL:       strings.TrimSuffix(getEnv("N8N_BASE_URL", ""), "/"),
			WebhookSecret: getEnv("N8N_WEBHOOK_SECRET", ""),
			Timeout:       getEnvAsDuration("N8N_TIMEOUT", 10*time.Second),
			RateLimitRPS:  getEnvAsFloat("N8N_RATE_LIMIT_RPS", 5),
			RateBurst:     getEnvAsInt("N8N_RATE_BURST", 10),
		},
		Dispatch: DispatchConfig{
			Transport:    getEnv("DISPATCH_TRANSPORT", ""),
			BufferSize:   getEnvAsInt("DISPATCH_BUFFER_SIZE", 1000),
			WorkerCount:  getEnvAsInt("DISPATCH_WORKERS", 2),
			MaxRetries:   getEnvAsInt("DISPATCH_MAX_RETRIES", 2),
			RetryBackoff: getEnvAsDuration("DISPATCH_RETRY_BACKOFF", 2*time.Second),
			StopTimeout:  getEnvAsDuration("DISPATCH_STOP_TIMEOUT", 15*time.Second),
			RedisURL:     getEnv("REDIS_URL", ""),
			RedisStream:  getEnv("DISPATCH_REDIS_STREAM", "audit:dispatch"),
		},
		Quota: QuotaConfig{
			DefaultMonthlyQuota: defaultMonthlyQuota,
			MaxBatchRows:        getEnvAsInt("QUOTA_MAX_BATCH_ROWS", maxBatchRowsLimit),
			MinutesPerAudit:     getEnvAsInt("QUOTA_MINUTES_PER_AUDIT", 2),
			MaxParallelInserts:  getEnvAsInt("ADMISSION_MAX_PARALLEL", 10),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Dispatch.Transport == "" {
		cfg.Dispatch.Transport = defaultTransport(cfg)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are consistent
func (c *Config) Validate() error {
	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() {
		if c.Database == nil {
			return fmt.Errorf("database configuration required in production: set DATABASE_URL or DB_HOST")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth JWT secret is required in production")
		}
	}

	// The webhook client signs every payload, so it cannot run unsigned
	if c.Workflow.BaseURL != "" && c.Workflow.WebhookSecret == "" {
		return fmt.Errorf("N8N_WEBHOOK_SECRET is required when N8N_BASE_URL is set")
	}

	switch c.Dispatch.Transport {
	case TransportHTTP:
		if c.Workflow.BaseURL == "" {
			return fmt.Errorf("N8N_BASE_URL is required for the http dispatch transport")
		}
	case TransportRedis:
		if c.Dispatch.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis dispatch transport")
		}
	case TransportLog:
	default:
		return fmt.Errorf("unknown dispatch transport: %q", c.Dispatch.Transport)
	}

	if c.Quota.DefaultMonthlyQuota != defaultMonthlyQuota {
		return fmt.Errorf("default monthly quota must be %d", defaultMonthlyQuota)
	}
	if c.Quota.MaxBatchRows <= 0 || c.Quota.MaxBatchRows > maxBatchRowsLimit {
		return fmt.Errorf("max batch rows must be between 1 and %d", maxBatchRowsLimit)
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// Dispatch transports
const (
	TransportHTTP  = "http"
	TransportRedis = "redis"
	TransportLog   = "log"
)

func defaultTransport(c *Config) string {
	if c.Workflow.BaseURL != "" {
		return TransportHTTP
	}
	return TransportLog
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set.
func loadDatabaseConfig() *DatabaseConfig {
	initSchema := getEnvAsBool("DB_INIT_SCHEMA", false)
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			InitSchema:       initSchema,
		}
	}
	host := getEnv("DB_HOST", "")
	if host == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            host,
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "audits"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      initSchema,
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
