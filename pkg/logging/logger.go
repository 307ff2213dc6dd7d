// Package logging provides a platform-agnostic logging interface for
// DataHubSync's hub and client processes.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger defines the interface for structured logging across all
// DataHubSync components. With binds key/value fields to every later
// message; cmd/datahub-hub uses it to tag the scheduler's and the HTTP
// server's loggers with a "component" field. Dataset names are part of
// the formatted message text.
type Logger interface {
	// Info logs an informational message (e.g., "tick complete").
	Info(format string, args ...interface{})

	// Warning logs a warning message (e.g., "debounce scan disagreed").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "packaging failed: disk full").
	Error(format string, args ...interface{})

	// With returns a Logger that prefixes every subsequent message with
	// the given key/value pairs (an even-length list, alternating key,
	// value, as with zap's SugaredLogger).
	With(keysAndValues ...interface{}) Logger

	// Close releases resources held by the logger. Safe to call multiple
	// times. Returns nil for loggers without resources.
	Close() error
}

// ZapLogger backs Logger with a zap.SugaredLogger. This is the production
// implementation used by both cmd/datahub-hub and cmd/datahub-sync.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a console-encoded, leveled logger suitable for a
// long-running daemon (hub) or a short-lived CLI invocation (client).
// debug enables Debug-level output; otherwise Info and above are logged.
func NewZapLogger(debug bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapShortISO8601
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build zap logger: %w", err)
	}
	return &ZapLogger{sugar: l.Sugar()}, nil
}

// NewZapLoggerFromSugar wraps an existing *zap.SugaredLogger, e.g. one
// preconfigured with file-output sinks by the caller.
func NewZapLoggerFromSugar(s *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{sugar: s}
}

// Info logs an informational message.
func (z *ZapLogger) Info(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

// Warning logs a warning message.
func (z *ZapLogger) Warning(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

// Error logs an error message.
func (z *ZapLogger) Error(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// With returns a Logger with the given fields bound to every message.
func (z *ZapLogger) With(keysAndValues ...interface{}) Logger {
	return &ZapLogger{sugar: z.sugar.With(keysAndValues...)}
}

// Close flushes any buffered log entries.
func (z *ZapLogger) Close() error {
	// Sync commonly fails on stderr/stdout with ENOTTY; not actionable.
	_ = z.sugar.Sync()
	return nil
}

// NopLogger is a logger that discards all messages.
// Useful for unit tests that don't assert on log output.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Info discards the message.
func (n *NopLogger) Info(format string, args ...interface{}) {}

// Warning discards the message.
func (n *NopLogger) Warning(format string, args ...interface{}) {}

// Error discards the message.
func (n *NopLogger) Error(format string, args ...interface{}) {}

// With returns the same no-op logger.
func (n *NopLogger) With(keysAndValues ...interface{}) Logger { return n }

// Close is a no-op.
func (n *NopLogger) Close() error {
	return nil
}

// Ensure implementations satisfy the Logger interface.
var (
	_ Logger = (*ZapLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)

// MockLogger implements Logger for testing purposes.
// It records all log calls for verification in tests.
type MockLogger struct {
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool
	fields       []interface{}
	root         *MockLogger // set on loggers returned by With
}

// sink returns the logger whose call slices record this logger's calls.
func (m *MockLogger) sink() *MockLogger {
	if m.root != nil {
		return m.root
	}
	return m
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{
		InfoCalls:    make([]string, 0),
		WarningCalls: make([]string, 0),
		ErrorCalls:   make([]string, 0),
	}
}

// Info records the formatted message.
func (m *MockLogger) Info(format string, args ...interface{}) {
	s := m.sink()
	s.InfoCalls = append(s.InfoCalls, m.decorate(fmt.Sprintf(format, args...)))
}

// Warning records the formatted message.
func (m *MockLogger) Warning(format string, args ...interface{}) {
	s := m.sink()
	s.WarningCalls = append(s.WarningCalls, m.decorate(fmt.Sprintf(format, args...)))
}

// Error records the formatted message.
func (m *MockLogger) Error(format string, args ...interface{}) {
	s := m.sink()
	s.ErrorCalls = append(s.ErrorCalls, m.decorate(fmt.Sprintf(format, args...)))
}

// With returns a MockLogger that records into the same call slices as m
// but tags new entries with the given fields, so tests can assert on
// attribution.
func (m *MockLogger) With(keysAndValues ...interface{}) Logger {
	return &MockLogger{
		root:   m.sink(),
		fields: append(append([]interface{}{}, m.fields...), keysAndValues...),
	}
}

func (m *MockLogger) decorate(msg string) string {
	if len(m.fields) == 0 {
		return msg
	}
	return fmt.Sprintf("%s %v", msg, m.fields)
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.CloseCalled = true
	return nil
}

// Ensure MockLogger satisfies the Logger interface.
var _ Logger = (*MockLogger)(nil)
