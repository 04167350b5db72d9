package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevelFiltering(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	var buf bytes.Buffer
	Logger = slog.New(slog.NewTextHandler(&buf, nil))

	SetLogLevel(INFO)
	Debug("debug message should be filtered")
	Info("info message should appear")

	output := buf.String()
	if strings.Contains(output, "debug message should be filtered") {
		t.Fatalf("debug message was logged at INFO level:\n%s", output)
	}
	if !strings.Contains(output, "info message should appear") {
		t.Fatalf("info message was not logged:\n%s", output)
	}
}

func TestWarnLevelFiltersInfo(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	var buf bytes.Buffer
	Logger = slog.New(slog.NewTextHandler(&buf, nil))

	SetLogLevel(WARN)
	Info("info hidden")
	Warn("warn shown")

	output := buf.String()
	if strings.Contains(output, "info hidden") {
		t.Fatalf("info message was logged at WARN level:\n%s", output)
	}
	if !strings.Contains(output, "warn shown") {
		t.Fatalf("warn message was not logged:\n%s", output)
	}
	if Enabled(INFO) {
		t.Fatalf("expected INFO to be disabled at WARN level")
	}
	if !Enabled(ERROR) {
		t.Fatalf("expected ERROR to be enabled at WARN level")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		" INFO ":  INFO,
		"warning": WARN,
		"error":   ERROR,
	}
	for input, want := range cases {
		got, err := ParseLogLevel(input)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("expected %v for %q, got %v", want, input, got)
		}
	}

	if _, err := ParseLogLevel("loud"); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureJSONToFile(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	if err := Configure(Options{Level: "debug", File: path, Format: "json"}); err != nil {
		t.Fatalf("Configure returned error: %v", err)
	}
	Debug("written to file", "key", "value")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written to file"`) {
		t.Fatalf("expected json log line, got: %s", data)
	}
}

func TestConfigureInvalidFormatFallsBackToText(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	if err := Configure(Options{Format: "xml"}); err == nil {
		t.Fatalf("expected error for invalid format")
	}
	if Logger == nil {
		t.Fatalf("expected logger to be configured")
	}
}
