package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/patentrag/internal/logging"
	"github.com/54b3r/patentrag/internal/rag"
)

// maxBodyBytes caps request bodies for /search and /query.
const maxBodyBytes = 64 << 10

// internalError is the only body sent for 500 responses.
const internalError = "internal error"

// handleStatus handles GET / for liveness checks.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, statusResponse{Status: "ok", Service: serviceName})
}

// handleSearch handles POST /search. It returns the ranked results as a JSON
// array, or a single error status; partial results are never sent.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req searchRequest
	if !decodeBody(w, r, &req) {
		s.metrics.observe("search", outcomeInvalid, 0)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.metrics.observe("search", outcomeInvalid, 0)
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	topK := topKOrDefault(req.TopK)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.retriever.Search(ctx, req.Query, topK)
	out := classify(err)
	s.metrics.observe("search", out, time.Since(start))
	if err != nil {
		s.fail(w, log, "search failed", out, err)
		return
	}
	if results == nil {
		results = []rag.SearchResult{}
	}

	log.Info("search served",
		slog.Int("top_k", topK),
		slog.Int("results", len(results)),
	)
	writeJSON(w, r, http.StatusOK, results)
}

// handleQuery handles POST /query and returns {"answer": "..."}.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if !decodeBody(w, r, &req) {
		s.metrics.observe("query", outcomeInvalid, 0)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.metrics.observe("query", outcomeInvalid, 0)
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	topK := topKOrDefault(req.TopK)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	ans, err := s.answerer.Answer(ctx, req.Question, topK)
	out := classify(err)
	s.metrics.observe("query", out, time.Since(start))
	if err != nil {
		s.fail(w, log, "query failed", out, err)
		return
	}

	log.Info("query served", slog.Int("top_k", topK), slog.Int("answer_len", len(ans.Answer)))
	writeJSON(w, r, http.StatusOK, ans)
}

// fail logs err and writes the matching status. Internal detail is never sent
// to the client.
func (s *Server) fail(w http.ResponseWriter, log *slog.Logger, msg, out string, err error) {
	if out == outcomeInvalid {
		log.Warn(msg, slog.Any("error", err))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	log.Error(msg, slog.String("outcome", out), slog.Any("error", err))
	http.Error(w, internalError, http.StatusInternalServerError)
}

// decodeBody decodes a JSON request body into dst, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// topKOrDefault applies rag.DefaultTopK when the field was omitted.
// Non-positive values are passed through; the retriever clamps them to 1.
func topKOrDefault(v *int) int {
	if v == nil {
		return rag.DefaultTopK
	}
	return *v
}

// classify maps an error onto a metrics outcome label.
func classify(err error) string {
	var pe *rag.ProviderError
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, rag.ErrInvalidArgument):
		return outcomeInvalid
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &pe) && pe.Timeout():
		return outcomeTimeout
	default:
		return outcomeError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
