// Package config loads service configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// No-reviewer policies for task creation.
const (
	PolicyReject = "reject"
	PolicyHold   = "hold"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Generation GenerationConfig
	Assignment AssignmentConfig
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	GinMode     string   `env:"GIN_MODE" envDefault:"debug"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173"`
}

type DatabaseConfig struct {
	Host         string `env:"DB_HOST" envDefault:"localhost"`
	Port         string `env:"DB_PORT" envDefault:"5432"`
	User         string `env:"DB_USER" envDefault:"postgres"`
	Password     string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name         string `env:"DB_NAME" envDefault:"postgres"`
	SSLMode      string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.Name + "?sslmode=" + d.SSLMode
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	// bcrypt hash of the key the delivery service presents in X-Service-Key.
	DeliveryKeyHash string `env:"DELIVERY_KEY_HASH"`
}

type ProviderConfig struct {
	Kind    string `env:"KIND"`
	BaseURL string `env:"BASE_URL"`
	APIKey  string `env:"API_KEY"`
	Model   string `env:"MODEL"`
}

type GenerationConfig struct {
	Primary          ProviderConfig `envPrefix:"AI_PRIMARY_"`
	Secondary        ProviderConfig `envPrefix:"AI_SECONDARY_"`
	AttemptTimeout   time.Duration  `env:"AI_ATTEMPT_TIMEOUT" envDefault:"60s"`
	Retries          int            `env:"AI_RETRIES" envDefault:"1"`
	BackoffInitial   time.Duration  `env:"AI_BACKOFF_INITIAL" envDefault:"2s"`
	RefineEnabled    bool           `env:"AI_REFINE_ENABLED" envDefault:"true"`
	RecorderPoolSize int            `env:"AI_RECORDER_POOL_SIZE" envDefault:"8"`
}

type AssignmentConfig struct {
	NoReviewerPolicy string `env:"ASSIGNMENT_NO_REVIEWER_POLICY" envDefault:"reject"`
	MaxAttempts      int    `env:"ASSIGNMENT_MAX_ATTEMPTS" envDefault:"5"`
	// RequeueInterval drives the background requeue of held tasks under the
	// hold policy. Zero disables it.
	RequeueInterval time.Duration `env:"ASSIGNMENT_REQUEUE_INTERVAL" envDefault:"1m"`
}

// Load reads envFile (if present) and parses the environment. A missing file
// is not an error; an unreadable or malformed one is.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Assignment.NoReviewerPolicy {
	case PolicyReject, PolicyHold:
	default:
		return fmt.Errorf("config: ASSIGNMENT_NO_REVIEWER_POLICY must be %q or %q, got %q", PolicyReject, PolicyHold, c.Assignment.NoReviewerPolicy)
	}
	if c.Assignment.MaxAttempts < 1 {
		return fmt.Errorf("config: ASSIGNMENT_MAX_ATTEMPTS must be positive")
	}
	if c.Generation.Primary.Kind == "" {
		return fmt.Errorf("config: AI_PRIMARY_KIND is required")
	}
	if c.Generation.AttemptTimeout <= 0 {
		return fmt.Errorf("config: AI_ATTEMPT_TIMEOUT must be positive")
	}
	if c.Generation.Retries < 0 {
		return fmt.Errorf("config: AI_RETRIES must not be negative")
	}
	if c.Server.GinMode == "release" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required in release mode")
	}
	return nil
}

// JWTSecret returns the signing secret, falling back to a development value
// outside release mode.
func (c *Config) JWTSecret() []byte {
	if c.Auth.JWTSecret == "" {
		return []byte("default_super_secret_key") // development fallback only
	}
	return []byte(c.Auth.JWTSecret)
}
