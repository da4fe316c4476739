package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("PATENTRAG_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("VECTOR_BACKEND", "qdrant"); got != "qdrant" {
		t.Errorf("expected 'qdrant', got %q", got)
	}
	if got := SanitiseKey("UNKNOWN_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_ConnectionURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key, in, want string
	}{
		{"DATABASE_URL", "postgres://rag:hunter2@db:5432/patents", "postgres://rag:xxxxx@db:5432/patents"},
		{"DATABASE_URL", "postgres://db:5432/patents", "postgres://db:5432/patents"},
		{"REDIS_URL", "redis://:s3cret@cache:6379/0", "redis://:xxxxx@cache:6379/0"},
		{"REDIS_URL", "", "unset"},
		{"DATABASE_URL", "host=db password=hunter2", "set"},
	}
	for _, tt := range tests {
		if got := SanitiseKey(tt.key, tt.in); got != tt.want {
			t.Errorf("SanitiseKey(%s, %q): got %q, want %q", tt.key, tt.in, got, tt.want)
		}
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && home != "/" {
		p := home + "/.patentrag/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.patentrag/config.yaml" {
			t.Errorf("expected '~/.patentrag/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-live-secret")
	t.Setenv("DATABASE_URL", "postgres://rag:hunter2@db:5432/patents")
	t.Setenv("VECTOR_BACKEND", "postgres")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "backfill", "")

	if bytes.Contains(buf.Bytes(), []byte("sk-live-secret")) || bytes.Contains(buf.Bytes(), []byte("hunter2")) {
		t.Fatalf("secret leaked into audit record: %s", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["command"] != "backfill" || rec["config_file"] != "none" {
		t.Errorf("unexpected header fields: %v", rec)
	}
	if rec["OPENAI_API_KEY"] != "set" || rec["VECTOR_BACKEND"] != "postgres" {
		t.Errorf("unexpected env fields: %v", rec)
	}
}
