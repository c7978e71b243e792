package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger creates an observing logger for tests.
func NewTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zapcore.DebugLevel)
	return zap.New(core), observed
}

// AssertLogged verifies a log at level containing message was recorded.
func AssertLogged(tb testing.TB, observed *observer.ObservedLogs, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, observed.All())
}

// AssertNotLogged verifies no log at level containing message was recorded.
func AssertNotLogged(tb testing.TB, observed *observer.ObservedLogs, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			tb.Errorf("unexpected log at %v containing %q", level, msgContains)
		}
	}
}
