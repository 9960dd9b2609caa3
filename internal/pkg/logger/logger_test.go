package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cli.log")

	log, err := SetupLogger(Config{Level: slog.LevelInfo, LogFile: path, Format: "json"})
	if err != nil {
		t.Fatalf("SetupLogger failed: %v", err)
	}

	WithCommand(log, "login").Info("hello", "k", "v")
	log.Debug("filtered out")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"command":"login"`) {
		t.Errorf("unexpected log output: %s", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("debug line written at info level: %s", out)
	}
}

func TestToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{name: "short", token: "tok-A", want: "tok-A"},
		{name: "exact", token: strings.Repeat("a", 30), want: strings.Repeat("a", 30)},
		{name: "long", token: strings.Repeat("b", 31) + "secret-tail", want: strings.Repeat("b", 30) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Token(tt.token)
			if attr.Key != "token" {
				t.Errorf("key = %q, want token", attr.Key)
			}
			if got := attr.Value.String(); got != tt.want {
				t.Errorf("Token(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestWithOperation(t *testing.T) {
	var buf strings.Builder
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	WithOperation(log, "signUp", "12345").Info("exchange")

	out := buf.String()
	if !strings.Contains(out, `"operation":"signUp"`) || !strings.Contains(out, `"request_id":"12345"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}
