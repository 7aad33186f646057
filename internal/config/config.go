// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrGeminiAPIKeyRequired is returned when GEMINI_API_KEY is not set.
	ErrGeminiAPIKeyRequired = errors.New("config: GEMINI_API_KEY is required")
	// ErrRenderBaseURLRequired is returned when RENDER_BASE_URL is not set.
	ErrRenderBaseURLRequired = errors.New("config: RENDER_BASE_URL is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Gemini settings
	GeminiAPIKey string `env:"GEMINI_API_KEY" json:"-"` // Masked in JSON
	GeminiModel  string `env:"GEMINI_MODEL, default=gemini-1.5-flash" json:"gemini_model"`

	// Render backend settings
	RenderBaseURL string `env:"RENDER_BASE_URL" json:"render_base_url"`
	RenderAPIKey  string `env:"RENDER_API_KEY" json:"-"` // Masked in JSON

	// Payment backend settings; payments are disabled when the base URL
	// is empty.
	PaymentBaseURL string        `env:"PAYMENT_BASE_URL" json:"payment_base_url,omitempty"`
	PaymentAPIKey  string        `env:"PAYMENT_API_KEY" json:"-"` // Masked in JSON
	PaymentExpiry  time.Duration `env:"PAYMENT_EXPIRY, default=15m" json:"payment_expiry"`

	// Polling settings
	PollInterval    time.Duration `env:"POLL_INTERVAL, default=3s" json:"poll_interval"`
	PollMaxFailures int           `env:"POLL_MAX_FAILURES, default=5" json:"poll_max_failures"`

	// Credit settings
	RenderCostCredits  int64 `env:"RENDER_COST_CREDITS, default=70" json:"render_cost_credits"`
	SignupBonusCredits int64 `env:"SIGNUP_BONUS_CREDITS, default=520" json:"signup_bonus_credits"`

	// Ledger persistence; in-memory when empty.
	LedgerDBPath string `env:"LEDGER_DB_PATH" json:"ledger_db_path,omitempty"`

	// Asset archival settings; archival is disabled when neither a local
	// directory nor an S3 bucket is configured.
	AssetDir     string `env:"ASSET_DIR" json:"asset_dir,omitempty"`
	AssetBaseURL string `env:"ASSET_BASE_URL" json:"asset_base_url,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// PaymentsEnabled returns true if a payment backend is configured.
func (c *Config) PaymentsEnabled() bool {
	return c.PaymentBaseURL != ""
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ArchivalEnabled returns true if completed assets should be copied to
// durable storage.
func (c *Config) ArchivalEnabled() bool {
	return c.S3Enabled() || c.AssetDir != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present. It is the
// single source of truth for required fields; the env tags carry only
// names and defaults.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return ErrGeminiAPIKeyRequired
	}
	if c.RenderBaseURL == "" {
		return ErrRenderBaseURLRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, GeminiModel: %s, RenderBaseURL: %s, PaymentBaseURL: %s, PollInterval: %s, PollMaxFailures: %d, RenderCostCredits: %d, SignupBonusCredits: %d, LedgerDBPath: %s, AssetDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.GeminiModel,
		c.RenderBaseURL,
		c.PaymentBaseURL,
		c.PollInterval,
		c.PollMaxFailures,
		c.RenderCostCredits,
		c.SignupBonusCredits,
		c.LedgerDBPath,
		c.AssetDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
