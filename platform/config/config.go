// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq scheduler and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetSweepInterval() time.Duration
	GetBlockAuditInterval() time.Duration
}

// ProviderConfig provides settings for the cloud messaging provider API.
type ProviderConfig interface {
	GetProviderBaseURL() string
	GetProviderToken() string
	GetProviderTimeout() time.Duration
}

// EngineConfig provides tunables for the sequence engine and block detector.
type EngineConfig interface {
	GetServiceWindow() time.Duration
	GetFreeEntryWindow() time.Duration
	GetUndeliveredThreshold() time.Duration
	GetBlockAuditRate() float64
	GetSweepConcurrency() int
}

// =============================================================================
// Config
// =============================================================================

// Config holds all application configuration loaded from the environment.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string

	JWTAccessSecret string

	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	ProviderBaseURL string
	ProviderToken   string
	ProviderTimeout time.Duration

	ServiceWindow        time.Duration
	FreeEntryWindow      time.Duration
	SweepInterval        time.Duration
	BlockAuditInterval   time.Duration
	UndeliveredThreshold time.Duration
	BlockAuditRate       float64
	SweepConcurrency     int
}

// Load reads configuration from the environment, with .env support for local
// development. Returns an error when required settings are missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTAccessSecret: os.Getenv("JWT_ACCESS_SECRET"),

		CORSAllowAll:   getEnvBool("CORS_ALLOW_ALL", false),
		CORSOrigins:    getEnvList("CORS_ORIGINS"),
		CORSAllowCreds: getEnvBool("CORS_ALLOW_CREDENTIALS", true),

		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure: getEnvBool("REDIS_TLS_INSECURE", false),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: getEnvInt("ASYNQ_CONCURRENCY", 10),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://graph.facebook.com/v19.0"),
		ProviderToken:   os.Getenv("PROVIDER_TOKEN"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),

		ServiceWindow:        getEnvDuration("SERVICE_WINDOW", 24*time.Hour),
		FreeEntryWindow:      getEnvDuration("FREE_ENTRY_WINDOW", 72*time.Hour),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		BlockAuditInterval:   getEnvDuration("BLOCK_AUDIT_INTERVAL", time.Hour),
		UndeliveredThreshold: getEnvDuration("UNDELIVERED_THRESHOLD", 72*time.Hour),
		BlockAuditRate:       getEnvFloat("BLOCK_AUDIT_RATE", 5),
		SweepConcurrency:     getEnvInt("SWEEP_CONCURRENCY", 8),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.Env != "development" && cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required outside development")
	}

	return cfg, nil
}

// =============================================================================
// Interface implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

func (c *Config) GetHTTPAddr() string       { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool     { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string  { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool   { return c.CORSAllowCreds }

func (c *Config) GetRedisURL() string                    { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool              { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string              { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int               { return c.AsynqConcurrency }
func (c *Config) GetSweepInterval() time.Duration        { return c.SweepInterval }
func (c *Config) GetBlockAuditInterval() time.Duration   { return c.BlockAuditInterval }

func (c *Config) GetProviderBaseURL() string        { return c.ProviderBaseURL }
func (c *Config) GetProviderToken() string          { return c.ProviderToken }
func (c *Config) GetProviderTimeout() time.Duration { return c.ProviderTimeout }

func (c *Config) GetServiceWindow() time.Duration        { return c.ServiceWindow }
func (c *Config) GetFreeEntryWindow() time.Duration      { return c.FreeEntryWindow }
func (c *Config) GetUndeliveredThreshold() time.Duration { return c.UndeliveredThreshold }
func (c *Config) GetBlockAuditRate() float64             { return c.BlockAuditRate }
func (c *Config) GetSweepConcurrency() int               { return c.SweepConcurrency }

// =============================================================================
// Env helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
