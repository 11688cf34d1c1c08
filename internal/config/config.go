// Package config loads signflow configuration from defaults, an optional YAML
// file, an optional .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Env       string          `yaml:"env" env:"SIGNFLOW_ENV"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Mail      MailConfig      `yaml:"mail"`
	Redis     RedisConfig     `yaml:"redis"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"SERVER_HOST"`
	Port         int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	// PublicURL prefixes links placed in emails.
	PublicURL   string `yaml:"public_url" env:"PUBLIC_URL"`
	CORSOrigins string `yaml:"cors_origins" env:"CORS_ORIGINS"`
	// TrustProxy takes client addresses from X-Forwarded-For.
	TrustProxy bool `yaml:"trust_proxy" env:"SERVER_TRUST_PROXY"`
}

// Origins splits the comma-separated CORS allow list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, part := range strings.Split(s.CORSOrigins, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL"`
	ResetTTL   time.Duration `yaml:"reset_ttl" env:"AUTH_RESET_TTL"`
	InviteTTL  time.Duration `yaml:"invite_ttl" env:"AUTH_INVITE_TTL"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST"`
}

type StorageConfig struct {
	// Backend is memory, filesystem or s3.
	Backend     string `yaml:"backend" env:"STORAGE_BACKEND"`
	Root        string `yaml:"root" env:"STORAGE_ROOT"`
	S3Bucket    string `yaml:"s3_bucket" env:"STORAGE_S3_BUCKET"`
	S3Region    string `yaml:"s3_region" env:"STORAGE_S3_REGION"`
	S3Endpoint  string `yaml:"s3_endpoint" env:"STORAGE_S3_ENDPOINT"`
	S3AccessKey string `yaml:"s3_access_key" env:"STORAGE_S3_ACCESS_KEY"`
	S3SecretKey string `yaml:"s3_secret_key" env:"STORAGE_S3_SECRET_KEY"`
}

type MailConfig struct {
	Host     string `yaml:"host" env:"MAIL_HOST"`
	Port     int    `yaml:"port" env:"MAIL_PORT"`
	Username string `yaml:"username" env:"MAIL_USERNAME"`
	Password string `yaml:"password" env:"MAIL_PASSWORD"`
	From     string `yaml:"from" env:"MAIL_FROM"`
	// Disabled routes mail to the log instead of SMTP.
	Disabled bool `yaml:"disabled" env:"MAIL_DISABLED"`
}

type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

type WorkflowConfig struct {
	SweepSchedule string        `yaml:"sweep_schedule" env:"WORKFLOW_SWEEP_SCHEDULE"`
	ReminderAfter time.Duration `yaml:"reminder_after" env:"WORKFLOW_REMINDER_AFTER"`
	DefaultExpiry time.Duration `yaml:"default_expiry" env:"WORKFLOW_DEFAULT_EXPIRY"`
	DispatchEvery time.Duration `yaml:"dispatch_every" env:"WORKFLOW_DISPATCH_EVERY"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type WebhookConfig struct {
	MailSecret string `yaml:"mail_secret" env:"WEBHOOK_MAIL_SECRET"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Env: "dev",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			PublicURL:    "http://localhost:8080",
			CORSOrigins:  "*",
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 1800,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Auth: AuthConfig{
			JWTSecret:  "dev-secret-change-me-dev-secret-change-me",
			TokenTTL:   24 * time.Hour,
			ResetTTL:   time.Hour,
			InviteTTL:  7 * 24 * time.Hour,
			BcryptCost: 12,
		},
		Storage: StorageConfig{Backend: "memory", Root: "./data/blobs"},
		Mail:    MailConfig{Port: 587, From: "signflow <no-reply@localhost>", Disabled: true},
		Workflow: WorkflowConfig{
			SweepSchedule: "@every 5m",
			ReminderAfter: 72 * time.Hour,
			DefaultExpiry: 30 * 24 * time.Hour,
			DispatchEvery: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
	}
}

// Load reads configuration from SIGNFLOW_CONFIG (if set), .env (if present)
// and the environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("SIGNFLOW_CONFIG"), ".env")
}

// LoadFrom is Load with explicit file locations. Empty or missing paths are
// skipped.
func LoadFrom(yamlPath, dotenvPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			// Load never overrides variables already set in the environment.
			if err := godotenv.Load(dotenvPath); err != nil {
				return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
			}
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDev reports whether relaxed development defaults are acceptable.
func (c *Config) IsDev() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "" || env == "dev" || env == "development" || env == "test"
}

// Validate rejects unusable combinations.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			problems = append(problems, "database.dsn is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported database.driver %q", c.Database.Driver))
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory":
	case "filesystem":
		if strings.TrimSpace(c.Storage.Root) == "" {
			problems = append(problems, "storage.root is required for the filesystem backend")
		}
	case "s3":
		if strings.TrimSpace(c.Storage.S3Bucket) == "" {
			problems = append(problems, "storage.s3_bucket is required for the s3 backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported storage.backend %q", c.Storage.Backend))
	}

	if len(c.Auth.JWTSecret) < 32 && !c.IsDev() {
		problems = append(problems, "auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "auth.token_ttl must be positive")
	}

	if !c.Mail.Disabled && strings.TrimSpace(c.Mail.Host) == "" {
		problems = append(problems, "mail.host is required unless mail.disabled is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
