package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	PublicBaseURL  string
	AllowedOrigins []string
	DatabaseURL    string

	// BookingBackend selects where appointments are written: "records"
	// goes through the records API, "postgres" uses the local table.
	BookingBackend string
	RecordsBaseURL string
	RecordsTimeout time.Duration

	JWTSecret           string
	HandoffIngestSecret string

	RedisAddr            string
	RedisPassword        string
	RedisTLS             bool
	AvailabilityCacheTTL time.Duration

	// Realtime
	RealtimeChannel     string
	RealtimeBacklogSize int
	PollWait            time.Duration
	PresenceTTL         time.Duration
	OutboxPollInterval  time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	HandoffQueueURL     string
	SQSWaitSeconds      int
	SQSMaxMessages      int
	// ProcessedRetention bounds how long handoff ids are remembered for
	// dedup; SQS never redelivers after 14 days.
	ProcessedRetention time.Duration

	// Email fallback for handoffs nobody sees
	EmailProvider       string
	SESFromEmail        string
	SESConfigurationSet string
	SendGridAPIKey      string
	SendGridFromEmail   string
	SendGridFromName    string

	// Console host
	ConsoleAPIURL    string
	ConsoleToken     string
	ConsoleTransport string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		BookingBackend: strings.ToLower(strings.TrimSpace(getEnv("BOOKING_BACKEND", "records"))),
		RecordsBaseURL: getEnv("RECORDS_BASE_URL", "http://localhost:8000"),
		RecordsTimeout: getEnvAsDuration("RECORDS_TIMEOUT", 15*time.Second),

		JWTSecret:           getEnv("JWT_SECRET", ""),
		HandoffIngestSecret: getEnv("HANDOFF_INGEST_SECRET", ""),

		RedisAddr:            getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisTLS:             getEnvAsBool("REDIS_TLS", false),
		AvailabilityCacheTTL: getEnvAsDuration("AVAILABILITY_CACHE_TTL", 5*time.Minute),

		RealtimeChannel:     getEnv("REALTIME_CHANNEL", "realtime:events"),
		RealtimeBacklogSize: getEnvAsInt("REALTIME_BACKLOG_SIZE", 256),
		PollWait:            getEnvAsDuration("REALTIME_POLL_WAIT", 25*time.Second),
		PresenceTTL:         getEnvAsDuration("REALTIME_PRESENCE_TTL", 60*time.Second),
		OutboxPollInterval:  getEnvAsDuration("OUTBOX_POLL_INTERVAL", time.Second),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		HandoffQueueURL:     getEnv("HANDOFF_QUEUE_URL", ""),
		SQSWaitSeconds:      getEnvAsInt("SQS_WAIT_SECONDS", 20),
		SQSMaxMessages:      getEnvAsInt("SQS_MAX_MESSAGES", 10),
		ProcessedRetention:  getEnvAsDuration("PROCESSED_RETENTION", 14*24*time.Hour),

		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", "Dentalogic"),

		ConsoleAPIURL:    getEnv("CONSOLE_API_URL", "http://localhost:8080"),
		ConsoleToken:     getEnv("CONSOLE_TOKEN", ""),
		ConsoleTransport: strings.ToLower(strings.TrimSpace(getEnv("CONSOLE_TRANSPORT", "auto"))),
	}
}

// LoadDotEnv reads .env files into the environment when they exist.
// Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("config: load dotenv: %w", err)
	}
	return nil
}

// IsProduction reports whether Env names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// ValidateAPI checks the settings cmd/api cannot start without.
func (c *Config) ValidateAPI() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.BookingBackend {
	case "records":
		if c.RecordsBaseURL == "" {
			errs = append(errs, errors.New("RECORDS_BASE_URL is required for the records backend"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("BOOKING_BACKEND %q must be records or postgres", c.BookingBackend))
	}
	if c.IsProduction() && c.HandoffIngestSecret == "" {
		errs = append(errs, errors.New("HANDOFF_INGEST_SECRET is required in production"))
	}
	return errors.Join(errs...)
}

// ValidateRelay checks what the handoff relay needs. A Lambda invocation
// receives its messages from the event source, so it has no queue URL.
func (c *Config) ValidateRelay(lambda bool) error {
	var errs []error
	if strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required to reach console viewers"))
	}
	if !lambda && c.HandoffQueueURL == "" {
		errs = append(errs, errors.New("HANDOFF_QUEUE_URL is required"))
	}
	return errors.Join(errs...)
}

// ValidateConsole checks the console host settings.
func (c *Config) ValidateConsole() error {
	var errs []error
	if strings.TrimSpace(c.ConsoleToken) == "" {
		errs = append(errs, errors.New("CONSOLE_TOKEN is required"))
	}
	if strings.TrimSpace(c.ConsoleAPIURL) == "" {
		errs = append(errs, errors.New("CONSOLE_API_URL is required"))
	}
	switch c.ConsoleTransport {
	case "auto", "websocket", "polling":
	default:
		errs = append(errs, fmt.Errorf("CONSOLE_TRANSPORT %q must be auto, websocket or polling", c.ConsoleTransport))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
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
