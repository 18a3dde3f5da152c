package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Mailer   MailerConfig   `yaml:"mailer"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
	SES      SESConfig      `yaml:"ses"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	FollowUp FollowUpConfig `yaml:"followup"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. Defaults to true.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// DatabaseConfig holds the tracking store connection. An empty URL runs the
// service on the in-memory store.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the optional Redis used for the sweep lock.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MailerConfig selects the outbound transport and sender identity.
type MailerConfig struct {
	Provider       string `yaml:"provider"` // "sendgrid" or "ses"
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	ReplyToEmail   string `yaml:"reply_to_email"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c MailerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendGridConfig holds SendGrid API configuration
type SendGridConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	UnsubscribeGroupID int    `yaml:"unsubscribe_group_id"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// WebhookConfig holds event webhook verification and archiving settings.
type WebhookConfig struct {
	VerifyKey        string `yaml:"verify_key"`
	EnforceSignature bool   `yaml:"enforce_signature"`
	ArchiveBucket    string `yaml:"archive_bucket"`
	ArchiveRegion    string `yaml:"archive_region"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes"`
}

// FollowUpConfig holds drip sequence timing.
type FollowUpConfig struct {
	Enabled                   *bool         `yaml:"enabled"`
	Threshold                 time.Duration `yaml:"threshold"`
	DailyAt                   string        `yaml:"daily_at"`
	Tick                      time.Duration `yaml:"tick"`
	SendPause                 time.Duration `yaml:"send_pause"`
	ClaimLease                time.Duration `yaml:"claim_lease"`
	BatchLimit                int           `yaml:"batch_limit"`
	SuppressAfterPropertyMail *bool         `yaml:"suppress_after_property_email"`
}

// IsEnabled reports whether the background sweep should start. Defaults to true.
func (c FollowUpConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SuppressAfterProperty reports whether a property email also marks the
// welcome record's follow-up as done. Defaults to true.
func (c FollowUpConfig) SuppressAfterProperty() bool {
	return c.SuppressAfterPropertyMail == nil || *c.SuppressAfterPropertyMail
}

// DailyClock parses DailyAt ("HH:MM") into hour and minute.
func (c FollowUpConfig) DailyClock() (int, int, error) {
	t, err := time.Parse("15:04", c.DailyAt)
	if err != nil {
		return 0, 0, fmt.Errorf("followup.daily_at %q: %w", c.DailyAt, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Load reads and parses the configuration file. A missing file is not an
// error: defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:8080"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Mailer.Provider == "" {
		cfg.Mailer.Provider = "sendgrid"
	}
	if cfg.Mailer.FromName == "" {
		cfg.Mailer.FromName = "Business Card OCR"
	}
	if cfg.Mailer.TimeoutSeconds == 0 {
		cfg.Mailer.TimeoutSeconds = 30
	}
	if cfg.SendGrid.BaseURL == "" {
		cfg.SendGrid.BaseURL = "https://api.sendgrid.com/v3"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 5 * 1024 * 1024
	}
	if cfg.Webhook.ArchiveRegion == "" {
		cfg.Webhook.ArchiveRegion = cfg.SES.Region
	}
	// 3 minutes suits development; production sets hours or days
	if cfg.FollowUp.Threshold == 0 {
		cfg.FollowUp.Threshold = 3 * time.Minute
	}
	if cfg.FollowUp.DailyAt == "" {
		cfg.FollowUp.DailyAt = "10:00"
	}
	if cfg.FollowUp.Tick == 0 {
		cfg.FollowUp.Tick = 10 * time.Second
	}
	if cfg.FollowUp.SendPause == 0 {
		cfg.FollowUp.SendPause = time.Second
	}
	if cfg.FollowUp.ClaimLease == 0 {
		cfg.FollowUp.ClaimLease = 5 * time.Minute
	}
	if cfg.FollowUp.BatchLimit == 0 {
		cfg.FollowUp.BatchLimit = 500
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Mailer.Provider {
	case "sendgrid", "ses":
	default:
		return fmt.Errorf("mailer.provider must be sendgrid or ses, got %q", c.Mailer.Provider)
	}
	if c.FollowUp.Threshold < 0 {
		return fmt.Errorf("followup.threshold must be positive")
	}
	if _, _, err := c.FollowUp.DailyClock(); err != nil {
		return err
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	} else if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Sender identity keeps the SENDGRID_* names the deployment already uses
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		cfg.Mailer.Provider = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGrid.APIKey = v
	}
	if v := os.Getenv("SENDGRID_FROM_EMAIL"); v != "" {
		cfg.Mailer.FromEmail = v
	}
	if v := os.Getenv("SENDGRID_FROM_NAME"); v != "" {
		cfg.Mailer.FromName = v
	}
	if v := os.Getenv("SENDGRID_REPLY_TO_EMAIL"); v != "" {
		cfg.Mailer.ReplyToEmail = v
	}
	if v := os.Getenv("SENDGRID_UNSUBSCRIBE_GROUP_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.SendGrid.UnsubscribeGroupID = id
		}
	}
	if v := os.Getenv("SENDGRID_WEBHOOK_VERIFY_KEY"); v != "" {
		cfg.Webhook.VerifyKey = v
	}
	if v := os.Getenv("WEBHOOK_ENFORCE_SIGNATURE"); v != "" {
		cfg.Webhook.EnforceSignature = v == "true" || v == "1"
	}
	if v := os.Getenv("WEBHOOK_ARCHIVE_BUCKET"); v != "" {
		cfg.Webhook.ArchiveBucket = v
	}

	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}

	if v := os.Getenv("FOLLOWUP_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("FOLLOWUP_THRESHOLD: %w", err)
		}
		cfg.FollowUp.Threshold = d
	}

	if cfg.Mailer.ReplyToEmail == "" {
		cfg.Mailer.ReplyToEmail = cfg.Mailer.FromEmail
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
