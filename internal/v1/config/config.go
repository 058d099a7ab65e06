// Package config validates and exposes the environment configuration for
// the access plane and signaling plane binaries.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Required in production
	SigningSecret string

	// Ports (API default 3000, signaling default 3001)
	APIPort       string
	SignalingPort string

	DatabaseURL string

	// Optional with defaults
	GoEnv          string
	LogLevel       string
	DefaultGrantTTL time.Duration
	AllowedOrigins string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate limits (ulule/limiter format: "<limit>-<period>", M=minute, H=hour)
	RateLimitAPIGlobal string
	RateLimitAPIRooms  string
	RateLimitAPIGrants string
}

// ValidateEnv validates environment variables and returns a Config.
// SigningSecret is required whenever GoEnv is "production"; the server
// refuses to start without it in production.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.SigningSecret = os.Getenv("SIGNING_SECRET")
	if cfg.SigningSecret == "" && cfg.GoEnv == "production" {
		errs = append(errs, "SIGNING_SECRET is required when GO_ENV=production")
	} else if cfg.SigningSecret != "" && len(cfg.SigningSecret) < 32 {
		errs = append(errs, fmt.Sprintf("SIGNING_SECRET must be at least 32 characters (got %d)", len(cfg.SigningSecret)))
	}

	cfg.APIPort = getEnvOrDefault("API_PORT", "3000")
	if !isValidPort(cfg.APIPort) {
		errs = append(errs, fmt.Sprintf("API_PORT must be a valid port number (got '%s')", cfg.APIPort))
	}

	cfg.SignalingPort = getEnvOrDefault("SIGNALING_PORT", "3001")
	if !isValidPort(cfg.SignalingPort) {
		errs = append(errs, fmt.Sprintf("SIGNALING_PORT must be a valid port number (got '%s')", cfg.SignalingPort))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	ttlStr := getEnvOrDefault("DEFAULT_GRANT_TTL", "1h")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		errs = append(errs, fmt.Sprintf("DEFAULT_GRANT_TTL must be a valid duration (got '%s')", ttlStr))
	}
	cfg.DefaultGrantTTL = ttl

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIGrants = getEnvOrDefault("RATE_LIMIT_API_GRANTS", "60-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidPort(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port >= 1 && port <= 65535
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	return isValidPort(parts[1])
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"signing_secret", redactSecret(cfg.SigningSecret),
		"api_port", cfg.APIPort,
		"signaling_port", cfg.SignalingPort,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"default_grant_ttl", cfg.DefaultGrantTTL.String(),
		"redis_enabled", cfg.RedisEnabled,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret shows only the first 8 characters of a secret.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
