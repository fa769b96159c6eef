package msgsock

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogger_Interface(t *testing.T) {
	var _ Logger = slog.Default()
	var _ Logger = NopLogger{}
}

func TestDefaultLogger(t *testing.T) {
	if logger := defaultLogger(); logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

func TestNopLogger_Methods(t *testing.T) {
	var logger Logger = NopLogger{}

	// These should not panic - just verify they can be called
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
}

func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewTextLogger(&buf, "WARN")
	if err != nil {
		t.Fatalf("NewTextLogger: %v", err)
	}

	logger.Info("hidden", "key", "value")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record passed a warn level logger: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "key=value") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestNewTextLogger_InvalidLevel(t *testing.T) {
	if _, err := NewTextLogger(&bytes.Buffer{}, "loud"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

// mockLogger for testing Logger interface
type mockLogger struct {
	debugCalled bool
	infoCalled  bool
	warnCalled  bool
	errorCalled bool
	lastMsg     string
	lastArgs    []any
}

func (l *mockLogger) Debug(msg string, args ...any) {
	l.debugCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Info(msg string, args ...any) {
	l.infoCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.warnCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.errorCalled = true
	l.lastMsg = msg
	l.lastArgs = args
}

func TestConn_LogsPeerClose(t *testing.T) {
	logger := &mockLogger{}
	a, b := createTestPair(t, LoggerOption(logger))

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := b.Ready(); err == nil {
		t.Fatal("Ready should report the closed peer")
	}

	if !logger.debugCalled || logger.lastMsg != "peer closed connection" {
		t.Errorf("last debug record = %q", logger.lastMsg)
	}
}
