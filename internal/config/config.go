package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ChangeFeedMemory   = "memory"
	ChangeFeedRedis    = "redis"
	ChangeFeedPostgres = "postgres"

	maxAttachmentLimit = 1 << 30
)

type Config struct {
	Port               string
	DBUrl              string
	DBMaxConns         int32
	JWTSecret          string
	SupabaseURL        string
	SupabaseBucket     string
	SupabaseServiceKey string
	AppEnv             string
	EnableDocs         bool
	CORSOrigins        string

	RedisURL         string
	ChangeFeedDriver string

	WebhookURL        string
	WebhookSecret     string
	WebhookTimeout    time.Duration
	WebhookAsyncQueue bool
	WorkerConcurrency int

	StoreTimeout       time.Duration
	MaxAttachmentBytes int64
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	dbMaxConns, err := getEnvInt("DB_MAX_CONNS", 10, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	workerConcurrency, err := getEnvInt("WORKER_CONCURRENCY", 10, 1000)
	if err != nil {
		return nil, err
	}
	maxAttachmentBytes, err := getEnvInt("MAX_ATTACHMENT_BYTES", 10*1024*1024, maxAttachmentLimit)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBUrl:              getEnv("DB_URL", ""),
		DBMaxConns:         int32(dbMaxConns),
		JWTSecret:          jwtSecret,
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		AppEnv:             normalizeEnv(getEnv("APP_ENV", "production")),
		EnableDocs:         getEnvBool("ENABLE_API_DOCS", false),
		CORSOrigins:        getEnv("CORS_ORIGINS", "*"),
		RedisURL:           getEnv("REDIS_URL", ""),
		ChangeFeedDriver:   strings.ToLower(strings.TrimSpace(getEnv("CHANGEFEED_DRIVER", ChangeFeedMemory))),
		WebhookURL:         getEnv("WEBHOOK_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		WebhookTimeout:     getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookAsyncQueue:  getEnvBool("WEBHOOK_ASYNC_QUEUE", false),
		WorkerConcurrency:  workerConcurrency,
		StoreTimeout:       getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		MaxAttachmentBytes: int64(maxAttachmentBytes),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ChangeFeedDriver {
	case ChangeFeedMemory, ChangeFeedPostgres:
	case ChangeFeedRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CHANGEFEED_DRIVER=redis")
		}
	default:
		return fmt.Errorf("unknown CHANGEFEED_DRIVER %q", c.ChangeFeedDriver)
	}
	if c.WebhookAsyncQueue && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when WEBHOOK_ASYNC_QUEUE is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvInt returns fallback when key is unset and an error when the value is
// not an integer in [1, upper].
func getEnvInt(key string, fallback, upper int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 || parsed > upper {
		return 0, fmt.Errorf("%s must be an integer between 1 and %d, got %q", key, upper, value)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) DocsEnabled() bool {
	return c != nil && c.EnableDocs && c.AppEnv == "development"
}

func (c *Config) StorageConfigured() bool {
	return c != nil && c.SupabaseURL != "" && c.SupabaseBucket != "" && c.SupabaseServiceKey != ""
}
