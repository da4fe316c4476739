package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	goopenai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/54b3r/patentrag/internal/rag"
	"github.com/54b3r/patentrag/internal/rag/ragtest"
)

// fakeChat records the messages it receives and replies via respond.
type fakeChat struct {
	mu       sync.Mutex
	received [][]*schema.Message
	respond  func(ctx context.Context) (*schema.Message, error)
}

var _ model.BaseChatModel = (*fakeChat)(nil)

func (f *fakeChat) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.received = append(f.received, input)
	f.mu.Unlock()
	return f.respond(ctx)
}

func (f *fakeChat) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func reply(content string) func(context.Context) (*schema.Message, error) {
	return func(context.Context) (*schema.Message, error) {
		return schema.AssistantMessage(content, nil), nil
	}
}

// corpus builds a retriever over three embedded chunks at known distances
// from the query vector {0, 0}.
func corpus(t *testing.T) rag.Retriever {
	t.Helper()
	ctx := context.Background()
	store := ragtest.NewMemoryStore()
	chunks := []struct {
		patent string
		seq    int
		text   string
		vec    []float32
	}{
		{"US42", 7, "a serrated trailing edge", []float32{1, 0}},
		{"EP-2020-9", 0, "noise reduction by vortex breakup", []float32{2, 0}},
		{"US42", 3, "blade root fixing", []float32{3, 0}},
	}
	for _, c := range chunks {
		id := rag.ChunkID(c.patent, c.seq)
		require.NoError(t, store.SaveChunk(ctx, rag.Chunk{ChunkID: id, PatentID: c.patent, Text: c.text}))
		_, err := store.SetEmbedding(ctx, id, c.vec)
		require.NoError(t, err)
	}
	r, err := rag.NewRetriever(ragtest.StaticEmbedder(map[string][]float32{"how is noise reduced?": {0, 0}}), store)
	require.NoError(t, err)
	return r
}

func TestBuildPrompt_CitationAlignment(t *testing.T) {
	t.Parallel()
	results := []rag.SearchResult{
		{PatentID: "US42", ChunkID: "US42-7", Snippet: "first"},
		{PatentID: "EP-2020-9", ChunkID: "EP-2020-9-0", Snippet: "second"},
	}

	got := BuildPrompt("q?", results)
	want := "You are a patent expert. Answer using ONLY the context. Cite each point like [1], [2].\n\n" +
		"Question: q?\n\n" +
		"Context:\n" +
		"[1] (US42-7): first\n\n" +
		"[2] (EP-2020-9-0): second\n\n"
	assert.Equal(t, want, got)
	assert.Equal(t, got, BuildPrompt("q?", results), "prompt must be deterministic")
}

func TestAnswer_PromptOrderMatchesRanking(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{respond: reply("Serrations [1] break vortices [2].")}
	s, err := New(corpus(t), chat, Config{Provider: "fake"})
	require.NoError(t, err)

	ans, err := s.Answer(context.Background(), "how is noise reduced?", 3)
	require.NoError(t, err)
	assert.Equal(t, "Serrations [1] break vortices [2].", ans.Answer)

	require.Len(t, chat.received, 1)
	msgs := chat.received[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, SystemPrompt, msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)

	prompt := msgs[1].Content
	i1 := strings.Index(prompt, "[1] (US42-7): a serrated trailing edge")
	i2 := strings.Index(prompt, "[2] (EP-2020-9-0): noise reduction by vortex breakup")
	i3 := strings.Index(prompt, "[3] (US42-3): blade root fixing")
	require.True(t, i1 >= 0 && i2 >= 0 && i3 >= 0, "prompt:\n%s", prompt)
	assert.Less(t, i1, i2)
	assert.Less(t, i2, i3)
}

func TestAnswer_TopKLimitsContext(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{respond: reply("ok [1]")}
	s, err := New(corpus(t), chat, Config{})
	require.NoError(t, err)

	_, err = s.Answer(context.Background(), "how is noise reduced?", 1)
	require.NoError(t, err)
	prompt := chat.received[0][1].Content
	assert.Contains(t, prompt, "[1] (US42-7)")
	assert.NotContains(t, prompt, "[2]")
}

func TestAnswer_MalformedCompletion(t *testing.T) {
	t.Parallel()
	tests := map[string]func(context.Context) (*schema.Message, error){
		"nil message": func(context.Context) (*schema.Message, error) { return nil, nil },
		"empty content": reply(""),
		"whitespace":    reply(" \n "),
	}
	for name, respond := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s, err := New(corpus(t), &fakeChat{respond: respond}, Config{Provider: "fake"})
			require.NoError(t, err)

			ans, err := s.Answer(context.Background(), "how is noise reduced?", 2)
			assert.Nil(t, ans)
			assert.ErrorIs(t, err, rag.ErrMalformedResponse)
			assert.ErrorIs(t, err, rag.ErrProvider)
		})
	}
}

func TestAnswer_ChatTimeout(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{respond: func(ctx context.Context) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s, err := New(corpus(t), chat, Config{Provider: "fake", Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = s.Answer(context.Background(), "how is noise reduced?", 1)
	var pe *rag.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Timeout())
}

func TestAnswer_ChatErrorKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    error
		kind   rag.ProviderKind
		status int
	}{
		{"openai unauthorized", &goopenai.APIError{HTTPStatusCode: 401, Message: "invalid api key"}, rag.KindAuth, 401},
		{"openai rate limited", fmt.Errorf("failed to create chat completion: %w", &goopenai.APIError{HTTPStatusCode: 429}), rag.KindRateLimit, 429},
		{"openai request error", &goopenai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}, rag.KindStatus, 503},
		{"gemini rate limited", genai.APIError{Code: 429, Message: "quota"}, rag.KindRateLimit, 429},
		{"connection refused", errors.New("dial tcp: connection refused"), rag.KindNetwork, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chat := &fakeChat{respond: func(context.Context) (*schema.Message, error) { return nil, tt.err }}
			s, err := New(corpus(t), chat, Config{Provider: "fake"})
			require.NoError(t, err)

			_, err = s.Answer(context.Background(), "how is noise reduced?", 1)
			var pe *rag.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestAnswer_RetrievalFailureSkipsChat(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{respond: reply("never")}
	s, err := New(corpus(t), chat, Config{})
	require.NoError(t, err)

	_, err = s.Answer(context.Background(), "a question with no vector", 5)
	assert.ErrorIs(t, err, rag.ErrRetrieval)
	assert.Empty(t, chat.received)
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	t.Parallel()
	s, err := New(corpus(t), &fakeChat{respond: reply("x")}, Config{})
	require.NoError(t, err)

	_, err = s.Answer(context.Background(), "  ", 5)
	assert.ErrorIs(t, err, rag.ErrInvalidArgument)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(nil, &fakeChat{}, Config{})
	assert.Error(t, err)
	_, err = New(corpus(t), nil, Config{})
	assert.Error(t, err)
}

func TestCitations(t *testing.T) {
	t.Parallel()

	text := "The hub is cast [2]. Blades pitch [1][2]; see also [7] and [x]."
	assert.Equal(t, []int{2, 1, 7}, Citations(text))
	assert.Equal(t, []int{7}, DanglingCitations(text, 2))
	assert.Empty(t, DanglingCitations("no markers at all", 0))
	assert.Equal(t, []int{0}, DanglingCitations("bogus [0]", 3))
}
