// Package config provides configuration loading for bugbind.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. Secrets never leave the process through logs or serialization;
// see the Secret type.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete bugbind configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Tracker  TrackerConfig  `koanf:"tracker"`
	TestMgmt TestMgmtConfig `koanf:"testmgmt"`
	Model    ModelConfig    `koanf:"model"`
	Matching MatchingConfig `koanf:"matching"`
	Gate     GateConfig     `koanf:"gate"`
	Ledger   LedgerConfig   `koanf:"ledger"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// WebhookSecret authenticates incoming webhook requests. Empty disables
	// signature checking (local development only).
	WebhookSecret Secret `koanf:"webhook_secret"`

	// RateLimitPerMinute caps webhook requests per client IP.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`

	// RedactFields are log field names whose values are replaced wholesale.
	RedactFields []string `koanf:"redact_fields"`

	// RedactPatterns are regexes; a matching value is replaced wholesale.
	RedactPatterns []string `koanf:"redact_patterns"`
}

// TrackerConfig holds issue-tracker connection settings.
type TrackerConfig struct {
	BaseURL        string   `koanf:"base_url"`
	Email          string   `koanf:"email"`
	APIToken       Secret   `koanf:"api_token"`
	RequestTimeout Duration `koanf:"request_timeout"`
	MaxRetries     uint     `koanf:"max_retries"`
}

// TestMgmtConfig holds test-management connection settings.
type TestMgmtConfig struct {
	BaseURL         string   `koanf:"base_url"`
	User            string   `koanf:"user"`
	APIKey          Secret   `koanf:"api_key"`
	RequestTimeout  Duration `koanf:"request_timeout"`
	SectionCacheTTL Duration `koanf:"section_cache_ttl"`
}

// ModelConfig holds reasoning-model settings.
type ModelConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// MatchingConfig holds matching-engine and learning settings.
type MatchingConfig struct {
	// Mode is "single" or "multi".
	Mode string `koanf:"mode"`

	ConfidenceThreshold     float64  `koanf:"confidence_threshold"`
	MultiMatchMinConfidence float64  `koanf:"multi_match_min_confidence"`
	ModelTimeout            Duration `koanf:"model_timeout"`

	// LearningDisabled turns off persistence of matches and corrections.
	// Learning is on by default.
	LearningDisabled bool `koanf:"learning_disabled"`

	// PreFilterDisabled turns off the section/title pre-filter. The
	// pre-filter is on by default.
	PreFilterDisabled bool `koanf:"pre_filter_disabled"`
}

// GateConfig holds open-defect gate settings.
type GateConfig struct {
	OpenStatuses  []string `koanf:"open_statuses"`
	LookupTimeout Duration `koanf:"lookup_timeout"`
}

// LedgerConfig holds persistence settings.
type LedgerConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory
	// backend, which loses learning across restarts.
	Path string `koanf:"path"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = 60
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if len(cfg.Logging.RedactFields) == 0 {
		cfg.Logging.RedactFields = []string{
			"password", "secret", "token", "api_key",
			"authorization", "bearer", "credential",
		}
	}
	if len(cfg.Logging.RedactPatterns) == 0 {
		cfg.Logging.RedactPatterns = []string{
			`(?i)bearer\s+\S+`,
			`(?i)api[_-]?key[=:]\s*\S+`,
		}
	}

	if cfg.Tracker.RequestTimeout == 0 {
		cfg.Tracker.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Tracker.MaxRetries == 0 {
		cfg.Tracker.MaxRetries = 3
	}

	if cfg.TestMgmt.RequestTimeout == 0 {
		cfg.TestMgmt.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.TestMgmt.SectionCacheTTL == 0 {
		cfg.TestMgmt.SectionCacheTTL = Duration(10 * time.Minute)
	}

	if cfg.Matching.Mode == "" {
		cfg.Matching.Mode = "single"
	}
	if cfg.Matching.ConfidenceThreshold == 0 {
		cfg.Matching.ConfidenceThreshold = 0.7
	}
	if cfg.Matching.MultiMatchMinConfidence == 0 {
		cfg.Matching.MultiMatchMinConfidence = 0.5
	}
	if cfg.Matching.ModelTimeout == 0 {
		cfg.Matching.ModelTimeout = Duration(120 * time.Second)
	}

	if len(cfg.Gate.OpenStatuses) == 0 {
		cfg.Gate.OpenStatuses = []string{"Open", "Reopened", "Ready for Dev", "To Do"}
	}
	if cfg.Gate.LookupTimeout == 0 {
		cfg.Gate.LookupTimeout = Duration(15 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Tracker.BaseURL == "" {
		return errors.New("tracker.base_url is required")
	}
	if c.Tracker.Email == "" || !c.Tracker.APIToken.IsSet() {
		return errors.New("tracker.email and tracker.api_token are required")
	}

	if c.TestMgmt.BaseURL == "" {
		return errors.New("testmgmt.base_url is required")
	}
	if c.TestMgmt.User == "" || !c.TestMgmt.APIKey.IsSet() {
		return errors.New("testmgmt.user and testmgmt.api_key are required")
	}

	if c.Model.Model == "" {
		return errors.New("model.model is required")
	}
	if !c.Model.APIKey.IsSet() {
		return errors.New("model.api_key is required")
	}

	if c.Matching.Mode != "single" && c.Matching.Mode != "multi" {
		return fmt.Errorf("matching.mode must be \"single\" or \"multi\", got %q", c.Matching.Mode)
	}
	if c.Matching.ConfidenceThreshold < 0 || c.Matching.ConfidenceThreshold > 1 {
		return fmt.Errorf("matching.confidence_threshold must be in [0,1]")
	}
	if c.Matching.MultiMatchMinConfidence < 0 || c.Matching.MultiMatchMinConfidence > 1 {
		return fmt.Errorf("matching.multi_match_min_confidence must be in [0,1]")
	}

	return nil
}
