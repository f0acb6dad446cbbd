package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default church location used as route origin and for synthetic waypoints.
const (
	DefaultChurchLat     = 39.72341827331013
	DefaultChurchLng     = -104.80330062208942
	DefaultChurchAddress = "Denver Church, 8400 E Yale Ave, Denver, CO 80231"
)

// Config holds all configuration for the service and the CLI.
type Config struct {
	// Server
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AllowOrigins []string
	RateRPS      float64
	RateBurst    int
	LogLevel     string

	// Storage and fan-out
	DatabaseURL string
	DBMigrate   bool
	RedisURL    string

	// Auth
	AuthMode        string
	AuthHMACSecret  string
	AuthJWKSURL     string
	AuthRoleClaim   string
	AuthDriverClaim string

	// Webhooks
	WebhookMaxAttempts int

	// External services
	RouteServiceURL  string
	EmailServiceURL  string
	EmailBypassQueue bool
	SMSServiceURL    string
	SMSToken         string
	NotifyDelay      time.Duration
	HTTPTimeout      time.Duration

	// Church base point
	ChurchLat     float64
	ChurchLng     float64
	ChurchAddress string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:         getEnv("PORT", "8080"),
		ReadTimeout:  time.Duration(getEnvAsInt("READ_TIMEOUT", 15)) * time.Second,
		WriteTimeout: time.Duration(getEnvAsInt("WRITE_TIMEOUT", 60)) * time.Second,
		AllowOrigins: getEnvAsList("ALLOW_ORIGINS", []string{"*"}),
		RateRPS:      getEnvAsFloat("RATE_RPS", 20),
		RateBurst:    getEnvAsInt("RATE_BURST", 40),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		DatabaseURL: strings.TrimSpace(getEnv("DATABASE_URL", "")),
		DBMigrate:   getEnvAsBool("DB_MIGRATE", true),
		RedisURL:    getEnv("REDIS_URL", ""),

		AuthMode:        strings.ToLower(getEnv("AUTH_MODE", "dev")),
		AuthHMACSecret:  getEnv("AUTH_HMAC_SECRET", ""),
		AuthJWKSURL:     getEnv("AUTH_JWKS_URL", ""),
		AuthRoleClaim:   getEnv("AUTH_ROLE_CLAIM", "role"),
		AuthDriverClaim: getEnv("AUTH_DRIVER_CLAIM", "sub"),

		WebhookMaxAttempts: getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 10),

		RouteServiceURL:  strings.TrimRight(getEnv("ROUTE_SERVICE_URL", ""), "/"),
		EmailServiceURL:  strings.TrimRight(getEnv("EMAIL_SERVICE_URL", ""), "/"),
		EmailBypassQueue: getEnvAsBool("EMAIL_BYPASS_QUEUE", true),
		SMSServiceURL:    strings.TrimRight(getEnv("SMS_SERVICE_URL", ""), "/"),
		SMSToken:         getEnv("SMS_TOKEN", ""),
		NotifyDelay:      time.Duration(getEnvAsInt("NOTIFY_DELAY_MS", 500)) * time.Millisecond,
		HTTPTimeout:      time.Duration(getEnvAsInt("HTTP_TIMEOUT_SEC", 30)) * time.Second,

		ChurchLat:     getEnvAsFloat("CHURCH_LAT", DefaultChurchLat),
		ChurchLng:     getEnvAsFloat("CHURCH_LNG", DefaultChurchLng),
		ChurchAddress: getEnv("CHURCH_ADDRESS", DefaultChurchAddress),
	}
}

// Missing lists the integration settings that are unset. Callers log them as warnings;
// none of them prevents startup.
func (c *Config) Missing() []string {
	var out []string
	if c.DatabaseURL == "" {
		out = append(out, "DATABASE_URL")
	}
	if c.RouteServiceURL == "" {
		out = append(out, "ROUTE_SERVICE_URL")
	}
	if c.EmailServiceURL == "" {
		out = append(out, "EMAIL_SERVICE_URL")
	}
	if c.SMSServiceURL == "" {
		out = append(out, "SMS_SERVICE_URL")
	}
	if c.SMSToken == "" {
		out = append(out, "SMS_TOKEN")
	}
	if c.AuthMode == "hmac" && c.AuthHMACSecret == "" {
		out = append(out, "AUTH_HMAC_SECRET")
	}
	if c.AuthMode == "jwks" && c.AuthJWKSURL == "" {
		out = append(out, "AUTH_JWKS_URL")
	}
	return out
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
