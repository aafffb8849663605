package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names. Fixed identifiers: credentials, descriptors, breaker state,
// and attempt records all key on these.
const (
	ServiceUnified      = "unified"
	ServiceSMSGateway   = "smsgateway"
	ServiceEmailGateway = "emailgateway"
)

// Credential field names per provider, checked by registry validation.
const (
	CredAPIKey    = "api_key"
	CredAPISecret = "api_secret"
	CredSenderID  = "sender_id"
	CredFromAddr  = "from_address"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Provider endpoints (credentials are read separately, see Credentials)
	UnifiedEndpoints      []string
	SMSGatewayEndpoints   []string
	EmailGatewayEndpoints []string

	// Delivery execution
	AttemptTimeout    time.Duration
	ProviderRateLimit int

	// Retry backoff
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64
	MaxRetries    int

	// Circuit breaker
	BreakerThreshold   int
	BreakerOpenTimeout time.Duration
	BreakerHalfOpenMax int

	// Background jobs
	MonitorInterval    time.Duration
	RevalidateInterval time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		UnifiedEndpoints:      getList("UNIFIED_ENDPOINTS", "https://api.unified.example.com/v1/messages"),
		SMSGatewayEndpoints:   getList("SMSGW_ENDPOINTS", "https://api.smsgw.example.com/v2/sms"),
		EmailGatewayEndpoints: getList("EMAILGW_ENDPOINTS", "https://api.emailgw.example.com/v1/send"),

		AttemptTimeout:    getDuration("ATTEMPT_TIMEOUT", 10*time.Second),
		ProviderRateLimit: getInt("PROVIDER_RATE_LIMIT", 50),

		BackoffBase:   getDuration("BACKOFF_BASE", time.Second),
		BackoffMax:    getDuration("BACKOFF_MAX", 5*time.Minute),
		BackoffJitter: getFloat("BACKOFF_JITTER", 0.15),
		MaxRetries:    getInt("MAX_RETRIES", 5),

		BreakerThreshold:   getInt("BREAKER_THRESHOLD", 5),
		BreakerOpenTimeout: getDuration("BREAKER_OPEN_TIMEOUT", 60*time.Second),
		BreakerHalfOpenMax: getInt("BREAKER_HALF_OPEN_MAX", 3),

		MonitorInterval:    getDuration("MONITOR_INTERVAL", 5*time.Minute),
		RevalidateInterval: getDuration("REVALIDATE_INTERVAL", 15*time.Minute),
	}, nil
}

// Credentials reads the per-provider credential bundles from the
// environment. Called fresh on every validation pass, so a revalidation
// picks up rotated credentials without a process restart.
func Credentials() map[string]map[string]string {
	return map[string]map[string]string{
		ServiceUnified: {
			CredAPIKey:    os.Getenv("UNIFIED_API_KEY"),
			CredAPISecret: os.Getenv("UNIFIED_API_SECRET"),
		},
		ServiceSMSGateway: {
			CredAPIKey:   os.Getenv("SMSGW_API_KEY"),
			CredSenderID: os.Getenv("SMSGW_SENDER_ID"),
		},
		ServiceEmailGateway: {
			CredAPIKey:   os.Getenv("EMAILGW_API_KEY"),
			CredFromAddr: os.Getenv("EMAILGW_FROM_ADDRESS"),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getList(key, defaultVal string) []string {
	raw := getEnv(key, defaultVal)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
