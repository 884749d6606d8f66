package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port string

	// Remote hostel API
	GatewayBaseURL string
	GatewayTimeout time.Duration

	// Credential persistence; an empty DatabaseURL keeps tokens in memory.
	DatabaseURL   string
	CredentialKey string

	// Session and booking
	TokenRefreshSkew    time.Duration
	BookingBaseFee      int64
	ProfileRefreshDelay time.Duration

	CORSOrigins        []string
	RateLimitPerMinute int
	LogLevel           string
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		Port:                fallback(os.Getenv("PORT"), "8080"),
		GatewayBaseURL:      strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL")),
		GatewayTimeout:      getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CredentialKey:       fallback(os.Getenv("CREDENTIAL_KEY"), "default"),
		TokenRefreshSkew:    getEnvDuration("TOKEN_REFRESH_SKEW", 30*time.Second),
		BookingBaseFee:      getEnvInt64("BOOKING_BASE_FEE", 10000),
		ProfileRefreshDelay: getEnvDuration("PROFILE_REFRESH_DELAY", 2*time.Second),
		CORSOrigins:         parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		LogLevel:            fallback(os.Getenv("LOG_LEVEL"), "info"),
	}

	if cfg.GatewayBaseURL == "" {
		return Config{}, errors.New("GATEWAY_BASE_URL is required")
	}
	u, err := url.Parse(cfg.GatewayBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("GATEWAY_BASE_URL must be an absolute http(s) URL, got %q", cfg.GatewayBaseURL)
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

// getEnvDuration accepts Go durations ("750ms", "2s"); unparsable or
// non-positive values fall back to def.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return def
	}
	return i
}

func getEnvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i <= 0 {
		return def
	}
	return i
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
