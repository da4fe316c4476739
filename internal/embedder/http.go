package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/54b3r/patentrag/internal/rag"
)

// maxErrorBody caps how much of a non-2xx response body is kept for the
// error message.
const maxErrorBody = 4 << 10

// postJSON sends payload to url and decodes a 2xx body into out. Transport
// failures, non-2xx statuses and undecodable bodies come back as
// *rag.ProviderError. errMsg extracts a provider-specific message from a
// failed response body.
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, payload, out any, errMsg func([]byte) string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s embedder: marshal request: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s embedder: create request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return rag.TransportError(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := ""
		if errMsg != nil {
			msg = errMsg(raw)
		}
		return rag.StatusError(provider, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return rag.TransportError(provider, ctx.Err())
		}
		return rag.MalformedError(provider, "decode response: "+err.Error())
	}
	return nil
}
