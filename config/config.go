package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfigInvalid is wrapped by every validation failure. A process that receives it
// from New must not serve traffic.
var ErrConfigInvalid = errors.New("invalid configuration")

// MinSecretLength is the minimum length of the shared token signing secret
const MinSecretLength = 32

// SupportedAlgorithms lists the HMAC signing algorithms accepted for tokens
var SupportedAlgorithms = []string{"HS256", "HS384", "HS512"}

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Redis         RedisConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Backend          string // postgres or memory
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

// AuthConfig holds token signing configuration. It is read once at startup and never
// mutated afterwards.
type AuthConfig struct {
	Secret         string
	Algorithm      string
	TokenLifetime  time.Duration
	PublicPrefixes []string
}

// RateLimitConfig selects the rate limiter backend
type RateLimitConfig struct {
	Backend         string // memory or redis
	CleanupInterval time.Duration
}

// RedisConfig holds Redis connection settings used by the redis rate limit backend
type RedisConfig struct {
	URL string
}

// CORSConfig holds allowed origins for browser clients
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			Secret:         os.Getenv("BETTER_AUTH_SECRET"),
			Algorithm:      getEnv("JWT_ALGORITHM", "HS256"),
			TokenLifetime:  getTokenLifetime(),
			PublicPrefixes: getEnvAsList("AUTH_PUBLIC_PREFIXES", nil),
		},
		RateLimit: RateLimitConfig{
			Backend:         getEnv("RATE_LIMIT_BACKEND", "memory"),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := c.Auth.Validate(); err != nil {
		return err
	}

	switch c.Database.Backend {
	case "postgres":
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("%w: database configuration required: set DATABASE_URL or DB_HOST", ErrConfigInvalid)
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("%w: database user is required", ErrConfigInvalid)
			}
			if c.Database.Database == "" {
				return fmt.Errorf("%w: database name is required", ErrConfigInvalid)
			}
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("%w: memory storage backend is not allowed in production", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported storage backend %q", ErrConfigInvalid, c.Database.Backend)
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: REDIS_URL is required for the redis rate limit backend", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported rate limit backend %q", ErrConfigInvalid, c.RateLimit.Backend)
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("%w: log level is required", ErrConfigInvalid)
	}

	return nil
}

// Validate checks the signing secret, algorithm and lifetime
func (a *AuthConfig) Validate() error {
	if a.Secret == "" {
		return fmt.Errorf("%w: BETTER_AUTH_SECRET environment variable not set", ErrConfigInvalid)
	}
	if len(a.Secret) < MinSecretLength {
		return fmt.Errorf("%w: BETTER_AUTH_SECRET must be at least %d characters long, got %d",
			ErrConfigInvalid, MinSecretLength, len(a.Secret))
	}
	if !isSupportedAlgorithm(a.Algorithm) {
		return fmt.Errorf("%w: unsupported JWT algorithm: %s", ErrConfigInvalid, a.Algorithm)
	}
	if a.TokenLifetime <= 0 {
		return fmt.Errorf("%w: JWT_EXPIRATION_DELTA must be a positive integer", ErrConfigInvalid)
	}
	return nil
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

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		Backend:         getEnv("STORAGE_BACKEND", "postgres"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", true),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "taskpulse")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "taskpulse")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func isSupportedAlgorithm(alg string) bool {
	for _, a := range SupportedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8000
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

// getTokenLifetime reads JWT_EXPIRATION_DELTA in minutes. Unparseable values yield zero,
// which Validate rejects.
func getTokenLifetime() time.Duration {
	valueStr := os.Getenv("JWT_EXPIRATION_DELTA")
	if valueStr == "" {
		return 1440 * time.Minute
	}
	minutes, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0
	}
	return time.Duration(minutes) * time.Minute
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

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
