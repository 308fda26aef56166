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
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_JSONAndText(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Level: "info", Format: "json", Output: &buf}).Info("incident created", "incident_id", "i-1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output not parseable: %v (%s)", err, buf.String())
	}
	if rec["incident_id"] != "i-1" {
		t.Errorf("incident_id = %v, want i-1", rec["incident_id"])
	}

	buf.Reset()
	New(Options{Level: "warn", Format: "text", Output: &buf}).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level, got %q", buf.String())
	}
}

func TestSafeContext(t *testing.T) {
	ctx := map[string]any{
		"user_id":    "u-1",
		"session_id": "s-secret",
		"ip_address": "10.0.0.1",
		"integration": map[string]any{
			"api_key": "k-123",
			"name":    "ticketing",
		},
	}

	safe := SafeContext(ctx)

	if safe["user_id"] != "u-1" {
		t.Errorf("user_id = %v, want unmasked", safe["user_id"])
	}
	if safe["session_id"] != MaskedValue {
		t.Errorf("session_id = %v, want masked", safe["session_id"])
	}
	nested := safe["integration"].(map[string]any)
	if nested["api_key"] != MaskedValue || nested["name"] != "ticketing" {
		t.Errorf("nested masking wrong: %v", nested)
	}
	if ctx["session_id"] != "s-secret" {
		t.Error("SafeContext must not modify its input")
	}
}

func TestMaskString(t *testing.T) {
	if got := MaskString("abcdefghijkl", 2, 2); got != "ab***kl" {
		t.Errorf("MaskString() = %q", got)
	}
	if got := MaskString("short", 2, 2); got != MaskedValue {
		t.Errorf("MaskString(short) = %q, want masked", got)
	}
	if got := MaskString("", 1, 1); got != "" {
		t.Errorf("MaskString(\"\") = %q, want empty", got)
	}
}
