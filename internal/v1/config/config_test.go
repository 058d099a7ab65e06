package config

import (
	"os"
	"strings"
	"testing"
)

func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"SIGNING_SECRET", "API_PORT", "SIGNALING_PORT", "DATABASE_URL",
		"DEFAULT_GRANT_TTL", "REDIS_ENABLED", "REDIS_ADDR", "GO_ENV", "LOG_LEVEL",
	}
	orig := map[string]string{}
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if v := orig[k]; v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SIGNING_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("API_PORT", "3000")
	os.Setenv("SIGNALING_PORT", "3001")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.APIPort != "3000" {
		t.Errorf("expected API_PORT 3000, got %q", cfg.APIPort)
	}
	if cfg.SignalingPort != "3001" {
		t.Errorf("expected SIGNALING_PORT 3001, got %q", cfg.SignalingPort)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to production, got %q", cfg.GoEnv)
	}
	if cfg.DefaultGrantTTL.String() != "1h0m0s" {
		t.Errorf("expected default grant ttl 1h, got %v", cfg.DefaultGrantTTL)
	}
}

func TestValidateEnv_MissingSigningSecretInProduction(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("GO_ENV", "production")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing SIGNING_SECRET in production")
	}
	if !strings.Contains(err.Error(), "SIGNING_SECRET is required") {
		t.Errorf("expected error about SIGNING_SECRET, got: %v", err)
	}
}

func TestValidateEnv_MissingSigningSecretAllowedOutsideProduction(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("GO_ENV", "development")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error outside production, got: %v", err)
	}
	if cfg.SigningSecret != "" {
		t.Errorf("expected empty signing secret, got %q", cfg.SigningSecret)
	}
}

func TestValidateEnv_ShortSigningSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SIGNING_SECRET", "short")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for short SIGNING_SECRET")
	}
	if !strings.Contains(err.Error(), "must be at least 32 characters") {
		t.Errorf("expected length error, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SIGNING_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("API_PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid API_PORT")
	}
	if !strings.Contains(err.Error(), "API_PORT must be a valid port number") {
		t.Errorf("expected error about API_PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidGrantTTL(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SIGNING_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("DEFAULT_GRANT_TTL", "not-a-duration")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid DEFAULT_GRANT_TTL")
	}
	if !strings.Contains(err.Error(), "DEFAULT_GRANT_TTL must be a valid duration") {
		t.Errorf("expected duration error, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SIGNING_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected default redis addr, got %q", cfg.RedisAddr)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SIGNING_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid REDIS_ADDR")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("expected format error, got: %v", err)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"short secret", "short", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactSecret(tt.secret); got != tt.expected {
				t.Errorf("redactSecret(%q) = %q, want %q", tt.secret, got, tt.expected)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid ip", "127.0.0.1:3000", true},
		{"missing port", "localhost", false},
		{"missing host", ":8080", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"empty string", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidHostPort(tt.addr); got != tt.expected {
				t.Errorf("isValidHostPort(%q) = %v, want %v", tt.addr, got, tt.expected)
			}
		})
	}
}
