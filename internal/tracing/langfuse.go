// Package tracing wires optional Langfuse tracing into chat-model calls.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Setup initialises the Langfuse callback handler if LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set. The returned flush function must be called
// before process exit so buffered traces are sent. When Langfuse is not
// configured the handler and flusher are nil and ok is false.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "patentrag.answer",
	})
	return handler, flush, true
}
