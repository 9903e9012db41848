package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", &buf)
	logger.Info("hello", zap.String("cycle_id", "c1"))
	_ = logger.Sync()

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v (%s)", err, buf.String())
	}
	if payload["message"] != "hello" {
		t.Fatalf("expected message hello, got %#v", payload["message"])
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lowercase level, got %#v", payload["level"])
	}
	if payload["cycle_id"] != "c1" {
		t.Fatalf("expected cycle_id field, got %#v", payload["cycle_id"])
	}
	if payload["timestamp"] == nil {
		t.Fatalf("expected timestamp field in %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":  zapcore.DebugLevel,
		"WARN":   zapcore.WarnLevel,
		" error": zapcore.ErrorLevel,
		"bogus":  zapcore.InfoLevel,
		"":       zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", &buf)
	logger.Info("dropped")
	_ = logger.Sync()
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %s", buf.String())
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected non-nil logger")
	}
}
