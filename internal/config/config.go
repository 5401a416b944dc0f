// Package config loads the coordinator console settings from the environment,
// after an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const inflightMargin = 5 * time.Second

type Config struct {
	HTTPAddr   string
	LogLevel   string
	InstanceID string

	WebhookBaseURL      string
	WebhookAPIKey       string
	WebhookTimeout      time.Duration
	WebhookRetry        int
	WebhookRetryMaxWait time.Duration

	JWTSecret  string
	SessionTTL time.Duration

	RedisAddr     string
	NATSURL       string
	EventsSubject string

	InflightTTL     time.Duration
	WritesPerMinute int
	Location        *time.Location
}

// Load reads the configuration. files are .env candidates; a missing file is
// not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		InstanceID:          os.Getenv("INSTANCE_ID"),
		WebhookBaseURL:      os.Getenv("WEBHOOK_BASE_URL"),
		WebhookAPIKey:       os.Getenv("WEBHOOK_API_KEY"),
		WebhookTimeout:      time.Duration(parseIntEnv("WEBHOOK_TIMEOUT_MS", 10000)) * time.Millisecond,
		WebhookRetry:        parseIntEnv("WEBHOOK_RETRY", 2),
		WebhookRetryMaxWait: time.Duration(parseIntEnv("WEBHOOK_RETRY_MAX_WAIT_MS", 2000)) * time.Millisecond,
		JWTSecret:           os.Getenv("JWT_SECRET"),
		SessionTTL:          time.Duration(parseIntEnv("SESSION_TTL_MIN", 480)) * time.Minute,
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		NATSURL:             os.Getenv("NATS_URL"),
		EventsSubject:       getenv("EVENTS_SUBJECT", "roster.events"),
		WritesPerMinute:     parseIntEnv("RATE_WRITE_PER_MIN", 60),
	}

	loc, err := time.LoadLocation(getenv("TIMEZONE", "America/Santiago"))
	if err != nil {
		return Config{}, fmt.Errorf("timezone: %w", err)
	}
	cfg.Location = loc

	budget := cfg.WebhookBudget()
	cfg.InflightTTL = budget + inflightMargin
	if v := os.Getenv("INFLIGHT_TTL_SEC"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("INFLIGHT_TTL_SEC: %w", err)
		}
		cfg.InflightTTL = time.Duration(secs) * time.Second
		if cfg.InflightTTL < budget {
			return Config{}, fmt.Errorf("INFLIGHT_TTL_SEC %s is shorter than the webhook call budget %s", cfg.InflightTTL, budget)
		}
	}

	if cfg.WebhookBaseURL == "" {
		return Config{}, fmt.Errorf("WEBHOOK_BASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

// WebhookBudget is the longest a single webhook call can take with retries.
func (c Config) WebhookBudget() time.Duration {
	retries := c.WebhookRetry
	if retries < 0 {
		retries = 0
	}
	return c.WebhookTimeout*time.Duration(retries+1) + c.WebhookRetryMaxWait*time.Duration(retries)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
