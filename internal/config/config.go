package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App     AppConfig
	Auth    AuthConfig
	Stream  StreamConfig
	Jobs    JobsConfig
	Events  EventsConfig
	Sandbox SandboxConfig
}

type AppConfig struct {
	Environment     string        `validate:"required"`
	LogFilePath     string        `validate:"required"`
	PushLogFilePath string        `validate:"required"`
	APIBaseURL      string        `validate:"required,url"`
	WSBaseURL       string        `validate:"required,url"`
	RequestTimeout  time.Duration `validate:"gt=0"`
}

type AuthConfig struct {
	CredentialStore string        `validate:"oneof=memory sqlite redis"`
	SQLitePath      string
	RedisURL        string
	RefreshTimeout  time.Duration `validate:"gt=0"`
	ExpirySkew      time.Duration `validate:"gte=0"`
}

type StreamConfig struct {
	// 0 disables fragment coalescing in the conversation store.
	CoalesceWindow time.Duration `validate:"gte=0"`
}

type JobsConfig struct {
	HeartbeatInterval time.Duration `validate:"gt=0"`
	PollInterval      time.Duration `validate:"gt=0"`
	MaxPollAttempts   int           `validate:"gt=0"`
}

type EventsConfig struct {
	NatsURL string // empty disables export
}

type SandboxConfig struct {
	Port               string        `validate:"required"`
	JWTSecret          string        `validate:"required"`
	DemoEmail          string        `validate:"required,email"`
	DemoPassword       string        `validate:"required"`
	AccessTTL          time.Duration `validate:"gt=0"`
	CorsAllowedOrigins string
	ChunkDelay         time.Duration `validate:"gte=0"`
	StepDelay          time.Duration `validate:"gte=0"`
	JobRetention       time.Duration `validate:"gte=0"` // how long finished jobs stay pollable
	RedisURL           string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Environment:     getEnv("GO_ENV", "development"),
			LogFilePath:     getEnv("LOG_FILE_PATH", "logs/qa.log"),
			PushLogFilePath: getEnv("PUSH_LOG_FILE_PATH", "logs/push.log"),
			APIBaseURL:      getEnv("API_BASE_URL", "http://localhost:3000"),
			WSBaseURL:       getEnv("WS_BASE_URL", "ws://localhost:3000"),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			CredentialStore: getEnv("CREDENTIAL_STORE", "sqlite"),
			SQLitePath:      getEnv("CREDENTIAL_SQLITE_PATH", "data/credentials.db"),
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
			RefreshTimeout:  getEnvAsDuration("REFRESH_TIMEOUT", 30*time.Second),
			ExpirySkew:      getEnvAsDuration("TOKEN_EXPIRY_SKEW", 5*time.Second),
		},
		Stream: StreamConfig{
			CoalesceWindow: getEnvAsDuration("STREAM_COALESCE_WINDOW", 30*time.Millisecond),
		},
		Jobs: JobsConfig{
			HeartbeatInterval: getEnvAsDuration("JOB_HEARTBEAT_INTERVAL", 25*time.Second),
			PollInterval:      getEnvAsDuration("JOB_POLL_INTERVAL", 2*time.Second),
			MaxPollAttempts:   getEnvAsInt("JOB_MAX_POLL_ATTEMPTS", 300),
		},
		Events: EventsConfig{
			NatsURL: getEnv("NATS_URL", ""),
		},
		Sandbox: SandboxConfig{
			Port:               getEnv("SANDBOX_PORT", "3000"),
			JWTSecret:          getEnv("JWT_SECRET", "default_secret"),
			DemoEmail:          getEnv("SANDBOX_DEMO_EMAIL", "student@example.com"),
			DemoPassword:       getEnv("SANDBOX_DEMO_PASSWORD", "student123"),
			AccessTTL:          getEnvAsDuration("SANDBOX_ACCESS_TTL", 5*time.Minute),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			ChunkDelay:         getEnvAsDuration("SANDBOX_CHUNK_DELAY", 40*time.Millisecond),
			StepDelay:          getEnvAsDuration("SANDBOX_STEP_DELAY", 500*time.Millisecond),
			JobRetention:       getEnvAsDuration("SANDBOX_JOB_RETENTION", time.Hour),
			RedisURL:           getEnv("SANDBOX_REDIS_URL", ""),
		},
	}
}

// Validate checks the loaded values against their struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
