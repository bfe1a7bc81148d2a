package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	AuthJWTSecret string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Gateway   GatewayConfig
	Inference InferenceConfig
	Report    ReportConfig
}

// GatewayConfig configures the payment gateway boundary. WebhookSecret is
// the shared HMAC key for inbound webhook signatures.
type GatewayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

// InferenceConfig configures the external report inference service.
type InferenceConfig struct {
	BaseURL        string
	ServiceSecret  string
	RequestTimeout time.Duration
}

// ReportConfig controls the report job poll loop and compensation policy.
type ReportConfig struct {
	PollInterval    time.Duration
	PollDeadline    time.Duration
	RefundOnFailure bool
	StaleThreshold  time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "cellgauge"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		Gateway: GatewayConfig{
			BaseURL:       getenv("GATEWAY_BASE_URL", "https://api.razorpay.com"),
			KeyID:         strings.TrimSpace(getenv("GATEWAY_KEY_ID", "")),
			KeySecret:     strings.TrimSpace(getenv("GATEWAY_KEY_SECRET", "")),
			WebhookSecret: strings.TrimSpace(getenv("GATEWAY_WEBHOOK_SECRET", "")),
			Currency:      strings.ToUpper(getenv("GATEWAY_CURRENCY", "INR")),
		},
		Inference: InferenceConfig{
			BaseURL:        getenv("INFERENCE_BASE_URL", "http://localhost:9090"),
			ServiceSecret:  strings.TrimSpace(getenv("INFERENCE_SERVICE_SECRET", "")),
			RequestTimeout: getenvDuration("INFERENCE_REQUEST_TIMEOUT", 15*time.Second),
		},
		Report: ReportConfig{
			PollInterval:    getenvDuration("REPORT_POLL_INTERVAL", 3*time.Second),
			PollDeadline:    getenvDuration("REPORT_POLL_DEADLINE", 120*time.Second),
			RefundOnFailure: getenvBool("REPORT_REFUND_ON_FAILURE", false),
			StaleThreshold:  getenvDuration("REPORT_STALE_THRESHOLD", 15*time.Minute),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
