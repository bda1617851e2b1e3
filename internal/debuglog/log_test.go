package debuglog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelOff, "OFF"},
		{LogLevel(42), "UNKNOWN"},
	}

	for _, test := range tests {
		if got := test.level.String(); got != test.expected {
			t.Errorf("LogLevel.String() = %q, want %q", got, test.expected)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" info ", LevelInfo},
		{"WARN", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"off", LevelOff},
		{"disabled", LevelOff},
		{"INVALID", LevelInfo},
		{"", LevelInfo},
	}

	for _, test := range tests {
		if got := ParseLogLevel(test.input); got != test.expected {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", test.input, got, test.expected)
		}
	}
}

func TestSetupWithLevel(t *testing.T) {
	t.Setenv("FITLIST_LOG_LEVEL", "")
	logPath := filepath.Join(t.TempDir(), "test.log")

	if err := Setup(LevelInfo, logPath); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if GetLevel() != LevelInfo {
		t.Errorf("GetLevel() = %v, want %v", GetLevel(), LevelInfo)
	}

	Debugf("debug message")
	Infof("info message")
	Warnf("warn message")
	Errorf("error message")

	if err := Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}

	logContent := string(content)
	if strings.Contains(logContent, "debug message") {
		t.Error("DEBUG message should not appear with INFO level")
	}
	for _, want := range []string{"info message", "warn message", "error message"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("log should contain %q", want)
		}
	}
}

func TestSetupWithLevelOff(t *testing.T) {
	t.Setenv("FITLIST_LOG_LEVEL", "")
	if err := Setup(LevelOff); err != nil {
		t.Fatalf("Setup with LevelOff failed: %v", err)
	}

	if GetLevel() != LevelOff {
		t.Errorf("GetLevel() = %v, want %v", GetLevel(), LevelOff)
	}

	// Nop logger; must not panic or create files.
	Infof("info message")
}

func TestEnvOverridesLevel(t *testing.T) {
	t.Setenv("FITLIST_LOG_LEVEL", "error")
	var buf bytes.Buffer

	if err := Configure(Config{Level: LevelDebug, Output: &buf}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer Close()

	Infof("hidden")
	Errorf("visible")

	if GetLevel() != LevelError {
		t.Errorf("GetLevel() = %v, want %v", GetLevel(), LevelError)
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Error("INFO message should be filtered by env level")
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Error("ERROR message should be written")
	}
}

func TestWithComponentAndFields(t *testing.T) {
	t.Setenv("FITLIST_LOG_LEVEL", "")
	var buf bytes.Buffer

	if err := Configure(Config{Level: LevelDebug, Output: &buf}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer Close()

	logger := WithComponent("refresh")
	logger.Info().Str("url", "https://fitness.apple.com/us/workout/x/1").Msg("dispatch")

	fields := WithFields(map[string]any{"action": "testing", "count": 42})
	fields.Info().Msg("with fields")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if first["component"] != "refresh" {
		t.Errorf("component = %v, want refresh", first["component"])
	}
	if first["service"] != "fitlist" {
		t.Errorf("service = %v, want fitlist", first["service"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if second["action"] != "testing" || second["count"] != float64(42) {
		t.Errorf("unexpected fields: %v", second)
	}
}

func TestSetLevel(t *testing.T) {
	SetLevel(LevelDebug)
	if GetLevel() != LevelDebug {
		t.Errorf("SetLevel(LevelDebug) failed, got %v", GetLevel())
	}

	SetLevel(LevelError)
	if GetLevel() != LevelError {
		t.Errorf("SetLevel(LevelError) failed, got %v", GetLevel())
	}
}
