package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"word", "cats", "api_key", "sk-123", "dangling"})
	if len(out) != 5 {
		t.Fatalf("expected 5 elements, got %d", len(out))
	}
	if out[1] != "cats" {
		t.Errorf("plain value changed: %v", out[1])
	}
	if out[3] != "[REDACTED]" {
		t.Errorf("api_key not redacted: %v", out[3])
	}
	if out[4] != "dangling" {
		t.Errorf("dangling key lost: %v", out[4])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	if l == nil || l.SugaredLogger == nil {
		t.Fatal("expected usable no-op logger")
	}
	l.With("k", "v").Info("discarded")
}
