// Package answer synthesizes cited answers from retrieved patent chunks.
//
// The grounding prompt is deterministic: a fixed instruction preamble, the
// question, then one context block per search result in rank order. Block i
// is labelled [i+1] so the citation markers in the model's answer map back
// to the i-th result.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	goopenai "github.com/meguminnnnnnnnn/go-openai"
	"google.golang.org/genai"

	"github.com/54b3r/patentrag/internal/budget"
	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
)

const (
	// SystemPrompt is sent as the system turn of every completion.
	SystemPrompt = "You’re a precise, citation-driven patent assistant."

	// instructions opens every user turn.
	instructions = "You are a patent expert. Answer using ONLY the context. Cite each point like [1], [2]."

	// DefaultTimeout bounds one chat-completion call.
	DefaultTimeout = 60 * time.Second
)

// QueryAnswer is the synthesized response to a question.
type QueryAnswer struct {
	Answer string `json:"answer"`
}

// Config tunes a Synthesizer.
type Config struct {
	// Provider names the chat backend in errors and logs (e.g. "openai").
	Provider string

	// Timeout bounds the chat-completion call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxContextTokens is the prompt budget above which a warning is logged.
	// Zero uses budget.DefaultMaxContextTokens; negative disables the check.
	MaxContextTokens int

	// Handlers are eino callback handlers (e.g. Langfuse) attached to each call.
	Handlers []callbacks.Handler
}

// Synthesizer retrieves context for a question and asks a chat model to
// answer from it. It is safe for concurrent use.
type Synthesizer struct {
	retriever rag.Retriever
	chat      model.BaseChatModel
	cfg       Config
}

// New returns a Synthesizer over retriever and chat.
func New(retriever rag.Retriever, chat model.BaseChatModel, cfg Config) (*Synthesizer, error) {
	if retriever == nil {
		return nil, fmt.Errorf("answer: retriever must not be nil")
	}
	if chat == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	if cfg.Provider == "" {
		cfg.Provider = "chat"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Synthesizer{retriever: retriever, chat: chat, cfg: cfg}, nil
}

// BuildPrompt assembles the user turn for question and results.
func BuildPrompt(question string, results []rag.SearchResult) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nContext:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] (%s-%s): %s\n\n", i+1, r.PatentID, rag.Sequence(r.ChunkID), r.Snippet)
	}
	return b.String()
}

// Messages returns the full conversation sent to the chat model.
func Messages(question string, results []rag.SearchResult) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(SystemPrompt),
		schema.UserMessage(BuildPrompt(question, results)),
	}
}

// Answer retrieves topK chunks for question and returns the model's cited
// answer. Answers are never cached. A completion without content fails with
// rag.ErrMalformedResponse rather than returning an empty answer.
func (s *Synthesizer) Answer(ctx context.Context, question string, topK int) (*QueryAnswer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("answer: %w: question must not be empty", rag.ErrInvalidArgument)
	}
	log := logging.FromContext(ctx)

	results, err := s.retriever.Search(ctx, question, topK)
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}

	msgs := Messages(question, results)
	if u := budget.Check(msgs, s.cfg.MaxContextTokens); u.Over() {
		log.Warn("answer: prompt exceeds context budget",
			slog.Int("estimated_tokens", u.Estimated),
			slog.Int("limit", u.Limit),
			slog.Int("results", len(results)),
		)
	}

	text, err := s.complete(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}

	if bad := DanglingCitations(text, len(results)); len(bad) > 0 {
		log.Warn("answer: citations outside retrieved context",
			slog.Any("citations", bad),
			slog.Int("results", len(results)),
		)
	}

	log.Debug("answer: synthesized",
		slog.Int("results", len(results)),
		slog.Int("answer_chars", len(text)),
	)
	return &QueryAnswer{Answer: text}, nil
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Citations returns the distinct citation numbers in text in order of first
// appearance.
func Citations(text string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// DanglingCitations returns the citations in text that do not name one of
// the n context blocks.
func DanglingCitations(text string, n int) []int {
	var bad []int
	for _, c := range Citations(text) {
		if c < 1 || c > n {
			bad = append(bad, c)
		}
	}
	return bad
}

// complete makes the single chat-completion call under its own timeout.
func (s *Synthesizer) complete(ctx context.Context, msgs []*schema.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if len(s.cfg.Handlers) > 0 {
		ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
			Name:      "patentrag.answer",
			Type:      s.cfg.Provider,
			Component: components.ComponentOfChatModel,
		}, s.cfg.Handlers...)
	}

	start := time.Now()
	resp, err := s.chat.Generate(ctx, msgs)
	if err != nil {
		return "", chatError(s.cfg.Provider, err)
	}
	logging.FromContext(ctx).Debug("answer: completion returned", slog.Duration("elapsed", time.Since(start)))

	if resp == nil {
		return "", rag.MalformedError(s.cfg.Provider, "completion returned no message")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", rag.MalformedError(s.cfg.Provider, "completion message has no content")
	}
	return resp.Content, nil
}

// chatError classifies a failed completion. HTTP statuses surfaced by the
// OpenAI-compatible and Gemini SDKs map onto their provider error kinds;
// anything else is a transport failure.
func chatError(provider string, err error) error {
	var pe *rag.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return rag.StatusError(provider, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return rag.StatusError(provider, reqErr.HTTPStatusCode, reqErr.Error())
	}
	var gemErr genai.APIError
	if errors.As(err, &gemErr) && gemErr.Code != 0 {
		return rag.StatusError(provider, gemErr.Code, gemErr.Message)
	}
	return rag.TransportError(provider, err)
}
