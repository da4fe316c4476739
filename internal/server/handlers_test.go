package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/patentrag/internal/answer"
	"github.com/54b3r/patentrag/internal/rag"
)

// fakeRetriever records the last topK it was asked for.
type fakeRetriever struct {
	mu      sync.Mutex
	results []rag.SearchResult
	err     error
	gotTopK int
	gotQ    string
}

func (f *fakeRetriever) Search(_ context.Context, q string, topK int) ([]rag.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotQ, f.gotTopK = q, topK
	return f.results, f.err
}

type fakeAnswerer struct {
	answer  string
	err     error
	gotTopK int
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, topK int) (*answer.QueryAnswer, error) {
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return &answer.QueryAnswer{Answer: f.answer}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a Server without a listener or rate limiter.
func newTestServer() *Server {
	return newTestServerWith(&fakeRetriever{}, &fakeAnswerer{})
}

func newTestServerWith(r rag.Retriever, a answerer) *Server {
	return &Server{
		retriever: r,
		answerer:  a,
		cfg:       &Config{RequestTimeout: 5 * time.Second},
		log:       discardLogger(),
		metrics:   newServerMetrics(prometheus.NewRegistry()),
	}
}

// newRoutedServer builds a Server through New so routing and middleware apply.
func newRoutedServer(t *testing.T, r rag.Retriever, a answerer, apiKey string) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(r, a, &Config{
		Logger:          discardLogger(),
		APIKey:          apiKey,
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		RateLimit:       1000,
		RateBurst:       1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, reg
}

func post(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

var rankedResults = []rag.SearchResult{
	{PatentID: "US123", ChunkID: "US123-0", Snippet: "a rotor blade", Distance: 0.1},
	{PatentID: "US456", ChunkID: "US456-2", Snippet: "a turbine hub", Distance: 0.4},
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeAnswerer{}, nil); err == nil {
		t.Error("expected error for nil retriever")
	}
	if _, err := New(&fakeRetriever{}, nil, nil); err == nil {
		t.Error("expected error for nil answerer")
	}
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	s, _ := newRoutedServer(t, &fakeRetriever{}, &fakeAnswerer{}, "secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body statusResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Service != "patentrag" {
		t.Errorf("unexpected body: %+v", body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRouting_UnknownPath(t *testing.T) {
	t.Parallel()

	s, _ := newRoutedServer(t, &fakeRetriever{}, &fakeAnswerer{}, "")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleSearch_OK(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{results: rankedResults}
	s := newTestServerWith(r, &fakeAnswerer{})
	w := httptest.NewRecorder()
	s.handleSearch(w, post("/search", `{"query":"wind turbine blade","top_k":2}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}

	var got []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0]["chunk_id"] != "US123-0" || got[1]["chunk_id"] != "US456-2" {
		t.Errorf("rank order not preserved: %v", got)
	}
	for _, field := range []string{"patent_id", "chunk_id", "snippet", "distance"} {
		if _, ok := got[0][field]; !ok {
			t.Errorf("result missing field %q", field)
		}
	}
	if r.gotTopK != 2 || r.gotQ != "wind turbine blade" {
		t.Errorf("retriever called with q=%q topK=%d", r.gotQ, r.gotTopK)
	}
}

func TestHandleSearch_TopK(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"omitted uses default", `{"query":"q"}`, rag.DefaultTopK},
		{"explicit", `{"query":"q","top_k":7}`, 7},
		{"zero passed through for clamping", `{"query":"q","top_k":0}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &fakeRetriever{}
			s := newTestServerWith(r, &fakeAnswerer{})
			w := httptest.NewRecorder()
			s.handleSearch(w, post("/search", tt.body))
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			if r.gotTopK != tt.want {
				t.Errorf("topK: got %d, want %d", r.gotTopK, tt.want)
			}
		})
	}
}

func TestHandleSearch_EmptyResultsIsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleSearch(w, post("/search", `{"query":"nothing stored yet"}`))

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("expected [], got %q", got)
	}
}

func TestHandleSearch_BadRequests(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`not json`, `{"query":""}`, `{"query":"   "}`, `{"query":"q","top_k":"five"}`} {
		s := newTestServer()
		w := httptest.NewRecorder()
		s.handleSearch(w, post("/search", body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestHandleSearch_InternalErrorIsGeneric(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("%w: %w", rag.ErrRetrieval, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	s := newTestServerWith(&fakeRetriever{err: cause}, &fakeAnswerer{})
	w := httptest.NewRecorder()
	s.handleSearch(w, post("/search", `{"query":"q"}`))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Errorf("internal detail leaked: %q", w.Body.String())
	}
	if got := strings.TrimSpace(w.Body.String()); got != internalError {
		t.Errorf("body: got %q, want %q", got, internalError)
	}
}

func TestHandleQuery_OK(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{answer: "The blade is tapered [1]."}
	s := newTestServerWith(&fakeRetriever{}, a)
	w := httptest.NewRecorder()
	s.handleQuery(w, post("/query", `{"question":"How is the blade shaped?"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["answer"] != "The blade is tapered [1]." {
		t.Errorf("answer: got %q", body["answer"])
	}
	if a.gotTopK != rag.DefaultTopK {
		t.Errorf("topK: got %d, want %d", a.gotTopK, rag.DefaultTopK)
	}
}

func TestHandleQuery_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		err         error
		wantStatus  int
		wantOutcome string
	}{
		{"missing question", `{"top_k":3}`, nil, http.StatusBadRequest, outcomeInvalid},
		{"provider failure", `{"question":"q"}`, &rag.ProviderError{Provider: "openai", Kind: rag.KindAuth, StatusCode: 401}, http.StatusInternalServerError, outcomeError},
		{"provider timeout", `{"question":"q"}`, &rag.ProviderError{Provider: "openai", Kind: rag.KindTimeout}, http.StatusInternalServerError, outcomeTimeout},
		{"malformed", `{"question":"q"}`, &rag.ProviderError{Provider: "openai", Kind: rag.KindMalformed}, http.StatusInternalServerError, outcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServerWith(&fakeRetriever{}, &fakeAnswerer{err: tt.err})
			w := httptest.NewRecorder()
			s.handleQuery(w, post("/query", tt.body))

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			got := testutil.ToFloat64(s.metrics.requestsTotal.WithLabelValues("query", tt.wantOutcome))
			if got != 1 {
				t.Errorf("outcome %q counter: got %v, want 1", tt.wantOutcome, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, outcomeOK},
		{fmt.Errorf("wrap: %w", rag.ErrInvalidArgument), outcomeInvalid},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), outcomeTimeout},
		{rag.TransportError("ollama", context.DeadlineExceeded), outcomeTimeout},
		{rag.StatusError("openai", http.StatusTooManyRequests, "slow down"), outcomeError},
		{rag.ErrPersistence, outcomeError},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v): got %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRouting_AuthProtectsSearchAndQuery(t *testing.T) {
	t.Parallel()

	s, _ := newRoutedServer(t, &fakeRetriever{results: rankedResults}, &fakeAnswerer{answer: "ok"}, "secret")

	for _, path := range []string{"/search", "/query"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, post(path, `{"query":"q","question":"q"}`))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: expected 401, got %d", path, w.Code)
		}

		req := post(path, `{"query":"q","question":"q"}`)
		req.Header.Set("Authorization", "Bearer secret")
		w = httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s with token: expected 200, got %d", path, w.Code)
		}
	}
}

func TestRouting_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s, _ := newRoutedServer(t, &fakeRetriever{}, &fakeAnswerer{}, "")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}
