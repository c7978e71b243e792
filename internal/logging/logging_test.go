package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/bugbind/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())

	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Level = "loud"
	assert.Error(t, cfg.Validate())
}

func TestNew(t *testing.T) {
	logger, err := New(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)

	cfg := NewDefaultConfig()
	cfg.Format = "console"
	cfg.Level = "debug"
	logger, err = New(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	cfg = NewDefaultConfig()
	cfg.Redaction.Patterns = []string{"("}
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestRedactingEncoder(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, RedactionConfig{
		Enabled:  true,
		Fields:   []string{"api_key", "Password"},
		Patterns: []string{`(?i)bearer\s+\S+`},
	})
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "login"}, []zapcore.Field{
		zap.String("api_key", "hunter2"),
		zap.String("PASSWORD", "hunter2"),
		zap.String("auth_header", "Bearer abc123"),
		zap.String("user", "alice"),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "[REDACTED:pattern]")
	assert.Contains(t, out, "alice")
}

func TestRedactionThroughLogger(t *testing.T) {
	enc, err := NewRedactingEncoder(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		RedactionConfig{Enabled: true, Fields: []string{"api_key"}},
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel))

	// Fields given at the call site must be redacted, not only With fields.
	logger.Info("client configured",
		zap.String("api_key", "hunter2"),
		zap.String("endpoint", "https://example.testrail.io"))
	logger.With(zap.String("api_key", "hunter2")).Info("retrying")

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "example.testrail.io")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, RedactionConfig{})
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m"}, []zapcore.Field{
		zap.String("api_key", "visible"),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "visible")
}

func TestSecretField(t *testing.T) {
	logger, observed := NewTestLogger()
	logger.Info("configured",
		Secret("token", config.Secret("hunter2")),
		RedactedString("key", "abcdef"))

	entries := observed.All()
	require.Len(t, entries, 1)
	for _, f := range entries[0].Context {
		assert.NotContains(t, f.String, "hunter2")
		assert.NotContains(t, f.String, "abcdef")
	}
}

func TestAssertHelpers(t *testing.T) {
	logger, observed := NewTestLogger()
	logger.Warn("rate limit exceeded")

	AssertLogged(t, observed, zapcore.WarnLevel, "rate limit")
	AssertNotLogged(t, observed, zapcore.ErrorLevel, "rate limit")
}
