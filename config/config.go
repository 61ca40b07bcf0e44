package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds ambient process configuration.
type Config struct {
	Addr            string
	Env             string
	LogLevel        string
	GracefulTimeout time.Duration

	APIKeyHeader string

	RateLimitEnabled bool
	RateLimitRPM     int
	RateLimitBurst   int

	DefaultTimeout time.Duration
	MaxBodyBytes   int64

	// DomainConfigPath points at the TOML document described in domain.go.
	DomainConfigPath string
}

// Load reads ambient configuration from environment variables and an
// optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("NEXUS_GRACEFUL_TIMEOUT_SEC", 15)
	defaultTimeoutSec := getEnvInt("NEXUS_DEFAULT_TIMEOUT_SEC", 120)

	return &Config{
		Addr:             getEnv("NEXUS_ADDR", ":8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		GracefulTimeout:  time.Duration(gracefulSec) * time.Second,
		APIKeyHeader:     getEnv("API_KEY_HEADER", "Authorization"),
		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", 60),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 10),
		DefaultTimeout:   time.Duration(defaultTimeoutSec) * time.Second,
		MaxBodyBytes:     int64(getEnvInt("NEXUS_MAX_BODY_BYTES", 1*1024*1024)),
		DomainConfigPath: getEnv("NEXUS_CONFIG", "nexus.toml"),
	}
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }
func (c *Config) IsProduction() bool  { return c.Env == "production" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
