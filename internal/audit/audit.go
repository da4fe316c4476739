// Package audit writes one structured record per CLI command invocation:
// the command, the config file in effect, and the operational environment.
//
// Secret values are reduced to "set"/"unset". Connection URLs keep their
// host and database but lose any password.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

type redaction int

const (
	plain redaction = iota
	secret
	connURL
)

type auditEntry struct {
	key  string
	mode redaction
}

// auditKeys is the ordered list of env vars included in every audit record.
var auditKeys = []auditEntry{
	{"DATABASE_URL", connURL},
	{"STORE_TIMEOUT", plain},
	{"VECTOR_BACKEND", plain},
	{"REDIS_URL", connURL},
	{"CACHE_TTL", plain},
	{"QDRANT_HOST", plain},
	{"QDRANT_PORT", plain},
	{"QDRANT_COLLECTION", plain},
	{"QDRANT_API_KEY", secret},
	{"MODEL_PROVIDER", plain},
	{"OPENAI_API_KEY", secret},
	{"OPENAI_MODEL", plain},
	{"AZURE_OPENAI_API_KEY", secret},
	{"AZURE_OPENAI_ENDPOINT", plain},
	{"AZURE_OPENAI_DEPLOYMENT", plain},
	{"OLLAMA_HOST", plain},
	{"OLLAMA_MODEL", plain},
	{"GOOGLE_API_KEY", secret},
	{"GEMINI_MODEL", plain},
	{"ARK_API_KEY", secret},
	{"ARK_MODEL", plain},
	{"EMBEDDING_PROVIDER", plain},
	{"EMBEDDING_MODEL", plain},
	{"EMBEDDING_DIMENSIONS", plain},
	{"EMBEDDING_API_KEY", secret},
	{"BACKFILL_WORKERS", plain},
	{"BACKFILL_RPS", plain},
	{"PATENTRAG_API_KEY", secret},
	{"PATENTRAG_RUNS_DB", plain},
	{"LOG_LEVEL", plain},
	{"LOG_FORMAT", plain},
	{"LANGFUSE_PUBLIC_KEY", secret},
	{"LANGFUSE_SECRET_KEY", secret},
}

var modes = func() map[string]redaction {
	m := make(map[string]redaction, len(auditKeys))
	for _, e := range auditKeys {
		m[e.key] = e.mode
	}
	return m
}()

// LogCommandStart emits the audit record for command.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, e := range auditKeys {
		attrs = append(attrs, slog.String(e.key, SanitiseKey(e.key, os.Getenv(e.key))))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns a log-safe rendering of value for env var key.
// Unknown keys are treated as plain.
func SanitiseKey(key, value string) string {
	switch modes[key] {
	case secret:
		return presence(value)
	case connURL:
		return redactURL(value)
	default:
		return valOrUnset(value)
	}
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// redactURL masks the password of a connection URL. Values that do not
// parse are reported as presence only.
func redactURL(v string) string {
	if v == "" {
		return "unset"
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" {
		return "set"
	}
	return u.Redacted()
}

func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
