package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithJobID(WithComponent(newLogger(&buf, "info"), "poller"), "job-1")
	logger.Info("tick", "attempt", 2)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["component"] != "poller" {
		t.Errorf("component = %v, want poller", line["component"])
	}
	if line["job_id"] != "job-1" {
		t.Errorf("job_id = %v, want job-1", line["job_id"])
	}
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("SanitizeToken(short) = %q, want ****", got)
	}
	if got := SanitizeToken("abcd1234efgh5678"); got != "abcd...5678" {
		t.Errorf("SanitizeToken() = %q, want abcd...5678", got)
	}
}

func TestSanitizeURL(t *testing.T) {
	if got := SanitizeURL("https://cdn.example.com/a.mp4?sig=secret"); got != "https://cdn.example.com/a.mp4?..." {
		t.Errorf("SanitizeURL() = %q", got)
	}
	if got := SanitizeURL("/videos/a.mp4"); got != "/videos/a.mp4" {
		t.Errorf("SanitizeURL() = %q, want unchanged", got)
	}
}
