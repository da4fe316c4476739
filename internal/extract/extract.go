// Package extract turns a document file into the plain text the ingestion
// driver chunks. Plain text and Markdown are read verbatim, HTML is
// tag-stripped, and PDF goes through the poppler `pdftotext` binary.
// Every result has its whitespace collapsed to single spaces.
package extract

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrExtraction means a document could not be turned into text.
var ErrExtraction = errors.New("extraction failed")

// CommandRunner executes an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s not found on PATH (install poppler-utils): %w", name, err)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Extractor dispatches on file extension.
type Extractor struct {
	runner CommandRunner
}

// New returns an Extractor. A nil runner uses ExecRunner.
func New(runner CommandRunner) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Extractor{runner: runner}
}

// File extracts the text of the document at path.
func File(ctx context.Context, path string) (string, error) {
	return New(nil).File(ctx, path)
}

// File extracts the text of the document at path. An empty result is an
// error: a document with no text would ingest zero chunks silently.
func (e *Extractor) File(ctx context.Context, path string) (string, error) {
	var text string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		out, err := e.runner.Run(ctx, "pdftotext", "-enc", "UTF-8", "-q", path, "-")
		if err != nil {
			return "", fmt.Errorf("%w: pdf %s: %w", ErrExtraction, path, err)
		}
		text = string(out)
	case ".txt", ".md", ".markdown", ".text", "":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: read %s: %w", ErrExtraction, path, err)
		}
		text = string(b)
	case ".html", ".htm":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: read %s: %w", ErrExtraction, path, err)
		}
		text = StripHTML(string(b))
	default:
		return "", fmt.Errorf("%w: unsupported file type %q", ErrExtraction, ext)
	}

	text = CollapseWhitespace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s contains no extractable text", ErrExtraction, path)
	}
	return text, nil
}

// CollapseWhitespace replaces every run of whitespace with one space and
// trims the ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	droppedElements = regexp.MustCompile(`(?is)<(script|style|noscript|head|svg)[^>]*>.*?</(script|style|noscript|head|svg)>`)
	htmlComments    = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockBoundary   = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|td|blockquote|pre|table|section|article)\b[^>]*>`)
	allTags         = regexp.MustCompile(`<[^>]+>`)
)

// StripHTML removes markup, keeping readable text. Block elements become
// spaces so adjacent paragraphs do not run together.
func StripHTML(content string) string {
	content = droppedElements.ReplaceAllString(content, " ")
	content = htmlComments.ReplaceAllString(content, " ")
	content = blockBoundary.ReplaceAllString(content, " ")
	content = allTags.ReplaceAllString(content, "")
	return html.UnescapeString(content)
}
