package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
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

	// Worker loop
	WorkerBatchSize     int
	WorkerPollInterval  time.Duration
	WorkerBusyDelay     time.Duration
	WorkerErrorBackoff  time.Duration
	WorkerMaxIterations int // 0 = run until stopped

	// Rate limiting: maximum provider calls per second per channel
	RateLimit int

	// Push provider (FCM-style multicast endpoint)
	PushEndpoint  string
	PushServerKey string
	PushTimeout   time.Duration

	// Email provider (Postmark)
	PostmarkServerToken  string
	PostmarkAccountToken string
	EmailFrom            string

	// Channel feature flags
	PushEnabled  bool
	EmailEnabled bool
	InAppEnabled bool
	SMSEnabled   bool

	// Queue-depth gauge refresh
	MetricsInterval time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		WorkerBatchSize:     getInt("WORKER_BATCH_SIZE", 10),
		WorkerPollInterval:  getDuration("WORKER_POLL_INTERVAL", 30*time.Second),
		WorkerBusyDelay:     getDuration("WORKER_BUSY_DELAY", time.Second),
		WorkerErrorBackoff:  getDuration("WORKER_ERROR_BACKOFF", 5*time.Second),
		WorkerMaxIterations: getInt("WORKER_MAX_ITERATIONS", 0),

		RateLimit: getInt("RATE_LIMIT_PER_CHANNEL", 100),

		PushEndpoint:  getEnv("PUSH_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		PushServerKey: os.Getenv("PUSH_SERVER_KEY"),
		PushTimeout:   getDuration("PUSH_TIMEOUT", 10*time.Second),

		PostmarkServerToken:  os.Getenv("POSTMARK_SERVER_TOKEN"),
		PostmarkAccountToken: os.Getenv("POSTMARK_ACCOUNT_TOKEN"),
		EmailFrom:            getEnv("EMAIL_FROM", "no-reply@gigmarket.example"),

		PushEnabled:  getBool("NOTIFY_PUSH_ENABLED", true),
		EmailEnabled: getBool("NOTIFY_EMAIL_ENABLED", true),
		InAppEnabled: getBool("NOTIFY_IN_APP_ENABLED", true),
		SMSEnabled:   getBool("NOTIFY_SMS_ENABLED", false),

		MetricsInterval: getDuration("METRICS_INTERVAL", 15*time.Second),
	}, nil
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

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
