package configs

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerPort             string `envconfig:"SERVER_PORT" default:"8080"`
	ServerTimeOutInSeconds int64  `envconfig:"SERVER_TIME_OUT_IN_SECONDS" default:"5" validate:"gt=0"`
	LogLevel               string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	RateLimit              RateLimitConfig
	Processor              ProcessorConfig
	Results                ResultsConfig
	Database               DatabaseConfig
	RabbitMQ               RabbitMQConfig
	RedisConfig            RedisConfig
}

type RateLimitConfig struct {
	MaxRequests   int `envconfig:"MAX_REQUESTS" default:"10" validate:"gt=0"`
	WindowMinutes int `envconfig:"WINDOW_MINUTES" default:"60" validate:"gt=0,lte=153722867"`
	// WindowSeconds overrides WindowMinutes when positive
	WindowSeconds int `envconfig:"WINDOW_SECONDS" default:"0" validate:"gte=0,lte=9223372036"`
}

type ProcessorConfig struct {
	Enabled          bool     `envconfig:"PROCESSOR_ENABLED" default:"true"`
	Backend          string   `envconfig:"PROCESSOR_BACKEND" default:"claude" validate:"oneof=claude ollama"`
	ClaudeBinary     string   `envconfig:"CLAUDE_BINARY" default:"claude" validate:"required"`
	DefaultModel     string   `envconfig:"DEFAULT_MODEL" default:"sonnet" validate:"required"`
	AllowedModels    []string `envconfig:"ALLOWED_MODELS"`
	TimeOutInSeconds int64    `envconfig:"WORKER_TIME_OUT_IN_SECONDS" default:"600" validate:"gt=0"`
	MaxRetries       uint64   `envconfig:"WORKER_MAX_RETRIES" default:"2"`
}

type ResultsConfig struct {
	Store      string `envconfig:"RESULT_STORE" default:"file" validate:"oneof=file redis none"`
	Dir        string `envconfig:"RESULTS_DIR" default:"~/async"`
	TTLInHours int64  `envconfig:"RESULT_TTL_IN_HOURS" default:"168" validate:"gt=0"`
}

type DatabaseConfig struct {
	Username     string `envconfig:"DB_USERNAME"`
	Password     string `envconfig:"DB_PASSWORD"`
	Host         string `envconfig:"DB_HOST"`
	Port         string `envconfig:"DB_PORT" default:"5432"`
	Database     string `envconfig:"DB_DATABASE"`
	SSLMode      string `envconfig:"DB_SSL_MODE" default:"require"`
	PoolMaxConns int    `envconfig:"DB_POOL_MAX_CONNS" default:"1" validate:"gt=0"`
}

type RabbitMQConfig struct {
	Username        string `envconfig:"RABBIT_USERNAME"`
	Password        string `envconfig:"RABBIT_PASSWORD"`
	Host            string `envconfig:"RABBIT_HOST"`
	Port            string `envconfig:"RABBIT_PORT" default:"5672"`
	EventsQueueName string `envconfig:"EVENTS_QUEUE_NAME" default:"task_events"`
}

type RedisConfig struct {
	Username string `envconfig:"REDIS_USERNAME"`
	Password string `envconfig:"REDIS_PASSWORD"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	DBIndex  int32  `envconfig:"REDIS_DB_INDEX"`
}

// Window returns the configured sliding window, preferring WINDOW_SECONDS
func (r RateLimitConfig) Window() time.Duration {
	if r.WindowSeconds > 0 {
		return time.Duration(r.WindowSeconds) * time.Second
	}
	return time.Duration(r.WindowMinutes) * time.Minute
}

func (p ProcessorConfig) Timeout() time.Duration {
	return time.Duration(p.TimeOutInSeconds) * time.Second
}

// IsModelAllowed reports whether model may be requested; an empty allow list permits any model
func (p ProcessorConfig) IsModelAllowed(model string) bool {
	if len(p.AllowedModels) == 0 {
		return model != ""
	}
	for _, allowed := range p.AllowedModels {
		if strings.EqualFold(strings.TrimSpace(allowed), model) {
			return true
		}
	}
	return false
}

func (r ResultsConfig) TTL() time.Duration {
	return time.Duration(r.TTLInHours) * time.Hour
}

// ResolvedDir expands a leading "~" to the user's home directory
func (r ResultsConfig) ResolvedDir() string {
	if r.Dir == "~" || strings.HasPrefix(r.Dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Warn("Unable to resolve home directory for results dir", "dir", r.Dir, "error", err.Error())
			return r.Dir
		}
		return filepath.Join(home, strings.TrimPrefix(r.Dir, "~"))
	}
	return r.Dir
}

// IsEnabled reports whether history storage is configured
func (d DatabaseConfig) IsEnabled() bool {
	return d.Host != ""
}

// ToMigrationUri returns a string specifically for the migration package with the right prefix
func (d DatabaseConfig) ToMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
	)
}

// ToDbConnectionUri returns a connection URI to be used with the pgx package
func (d DatabaseConfig) ToDbConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// IsEnabled reports whether lifecycle events are published
func (d RabbitMQConfig) IsEnabled() bool {
	return d.Host != ""
}

// ToRabbitConnectionUri returns a connection URI to be used with the rabbitmq/amqp091-go package
func (d RabbitMQConfig) ToRabbitConnectionUri() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
	)
}

// ToRedisConnectionUri returns a connection URI to be used with the redis/go-redis/v9 package
func (d RedisConfig) ToRedisConnectionUri() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DBIndex,
	)
}

// SlogLevel maps LOG_LEVEL to a slog level
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the loaded values against their validate tags
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// LoadConfig reads .env when present and processes the environment
func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("unable to load .env: %w", err)
	}

	var cfg Config
	if err = envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to process env: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func InitConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	return cfg
}
