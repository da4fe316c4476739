package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestNewWithOptions_JSONFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithOptions(Options{Level: "warn", Output: &buf})
	log.Info("dropped")
	log.Warn("kept", slog.String("patent_id", "US123"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["patent_id"] != "US123" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewWithOptions_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWithOptions(Options{Format: "TEXT", Output: &buf}).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger for empty context")
	}

	var buf bytes.Buffer
	log := NewWithOptions(Options{Output: &buf})
	ctx := With(WithLogger(context.Background(), log), "request_id", "abc")
	FromContext(ctx).Info("scoped")
	if !strings.Contains(buf.String(), `"request_id":"abc"`) {
		t.Errorf("expected request_id attribute, got %q", buf.String())
	}
}
