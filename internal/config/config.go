package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the server configuration, loaded from the environment.
type Config struct {
	// Server settings
	Port               string        `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	Env                string        `envconfig:"APP_ENV" default:"development"`
	ReadTimeout        time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout       time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout    time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// PostgreSQL settings
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"oraculus"`
	DBPassword string `envconfig:"DB_PASSWORD" default:""`
	DBName     string `envconfig:"DB_NAME" default:"oraculus"`
	DBSSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNECTIONS" default:"10"`

	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"internal/database/migrations"`

	// Redis settings (story node cache)
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	NodeCacheTTL  time.Duration `envconfig:"NODE_CACHE_TTL" default:"24h"`

	// Story provider: "seed" uses the built-in tree only, "ai" generates
	// nodes beyond it.
	StoryProvider string `envconfig:"STORY_PROVIDER" default:"seed"`

	// AI backend settings
	AIBackend    string        `envconfig:"AI_BACKEND" default:"openai"`
	AIAPIKey     string        `envconfig:"AI_API_KEY" default:""`
	AIBaseURL    string        `envconfig:"AI_BASE_URL" default:""`
	AIModel      string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout    time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
	AIMaxRetries int           `envconfig:"AI_MAX_RETRIES" default:"2"`

	// Background task settings
	MaxTasks      int           `envconfig:"MAX_TASKS" default:"64"`
	TaskRetainAge time.Duration `envconfig:"TASK_RETAIN_AGE" default:"1h"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.StoryProvider == "ai" && cfg.AIBackend == "openai" && cfg.AIAPIKey == "" {
		return nil, fmt.Errorf("AI_API_KEY is required when STORY_PROVIDER=ai and AI_BACKEND=openai")
	}
	return &cfg, nil
}
