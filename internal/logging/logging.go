// Package logging builds the zap logger used across bugbind.
//
// Webhook payloads and tracker responses routinely carry API tokens in
// headers and custom fields, so the encoder redacts configured field names
// and value patterns before anything reaches an output.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration.
type Config struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`

	// Redaction controls sensitive data redaction.
	Redaction RedactionConfig `koanf:"redaction"`
}

// NewDefaultConfig returns config with production-ready defaults. The
// sensitive field and pattern lists come from configuration (see
// internal/config LoggingConfig); redaction itself is always on.
func NewDefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Redaction: RedactionConfig{Enabled: true},
	}
}

// Validate checks config for errors.
func (c Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	var level zapcore.Level
	if err := level.Set(c.Level); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	return nil
}

// New creates a zap logger from config, writing to stdout.
func New(cfg Config) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	var level zapcore.Level
	_ = level.Set(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	encoder, err := NewRedactingEncoder(encoder, cfg.Redaction)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", "bugbind")),
	), nil
}

// Sync flushes a logger, ignoring the harmless EINVAL/ENOTTY that syncing
// stdout returns on Linux.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
