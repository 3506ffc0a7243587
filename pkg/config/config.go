package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`

	// Persistence and autosave are optional; empty values disable them.
	DatabaseURL   string `mapstructure:"DATABASE_URL" validate:"omitempty,url|uri"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int  `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`
	AutosaveEnabled  bool `mapstructure:"AUTOSAVE_ENABLED"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	GeminiAPIKey      string        `mapstructure:"GEMINI_API_KEY"`
	ImageModel        string        `mapstructure:"IMAGE_MODEL" validate:"required"`
	VideoModel        string        `mapstructure:"VIDEO_MODEL" validate:"required"`
	TextModel         string        `mapstructure:"TEXT_MODEL" validate:"required"`
	VideoPollInterval time.Duration `mapstructure:"VIDEO_POLL_INTERVAL" validate:"required"`

	WorkspaceIdleTTL time.Duration `mapstructure:"WORKSPACE_IDLE_TTL" validate:"required"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

var keys = []string{
	"APP_ENV",
	"HTTP_ADDR",
	"SHUTDOWN_TIMEOUT",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"DATABASE_URL",
	"REDIS_ADDR",
	"REDIS_PASSWORD",
	"ASYNQ_CONCURRENCY",
	"AUTOSAVE_ENABLED",
	"JWT_SECRET",
	"GEMINI_API_KEY",
	"IMAGE_MODEL",
	"VIDEO_MODEL",
	"TEXT_MODEL",
	"VIDEO_POLL_INTERVAL",
	"WORKSPACE_IDLE_TTL",
	"GOMAXPROCS",
}

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	// Defaults
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("AUTOSAVE_ENABLED", true)
	v.SetDefault("IMAGE_MODEL", "gemini-2.5-flash-image")
	v.SetDefault("VIDEO_MODEL", "veo-3.0-generate-001")
	v.SetDefault("TEXT_MODEL", "gemini-2.5-flash")
	v.SetDefault("VIDEO_POLL_INTERVAL", "5s")
	v.SetDefault("WORKSPACE_IDLE_TTL", "2h")
	v.SetDefault("GOMAXPROCS", 0)

	// Optional config file
	_ = v.ReadInConfig()

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	// Parse duration types that may come as string
	for key, dst := range map[string]*time.Duration{
		"SHUTDOWN_TIMEOUT":    &c.ShutdownTimeout,
		"VIDEO_POLL_INTERVAL": &c.VideoPollInterval,
		"WORKSPACE_IDLE_TTL":  &c.WorkspaceIdleTTL,
	} {
		if s := v.GetString(key); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}

// PersistenceEnabled reports whether a database is configured.
func (c *Config) PersistenceEnabled() bool { return c.DatabaseURL != "" }

// QueueEnabled reports whether autosave tasks can be enqueued.
func (c *Config) QueueEnabled() bool { return c.RedisAddr != "" && c.AutosaveEnabled }
