package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error taxonomy shared by every stage. Callers classify failures with
// errors.Is; concrete errors wrap one of these sentinels.
var (
	// ErrPersistence means the vector store was unreachable or rejected a write.
	ErrPersistence = errors.New("persistence failure")

	// ErrCache means the embedding cache failed. It is absorbed by the cache
	// layer and only ever logged.
	ErrCache = errors.New("cache failure")

	// ErrProvider means an external embedding or chat API call failed.
	ErrProvider = errors.New("provider failure")

	// ErrMalformedResponse means an external response lacked a required field.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrInvalidArgument means the caller supplied an unusable argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRetrieval wraps any failure inside Retriever.Search so that callers
	// see a single retrieval failure with the cause still inspectable.
	ErrRetrieval = errors.New("retrieval failed")
)

// ProviderKind is the closed set of provider failure classes.
type ProviderKind string

const (
	// KindAuth is an authentication or authorisation rejection (401/403).
	KindAuth ProviderKind = "auth"
	// KindRateLimit is a 429 from the provider.
	KindRateLimit ProviderKind = "rate_limit"
	// KindNetwork is a transport failure before a response arrived.
	KindNetwork ProviderKind = "network"
	// KindTimeout is a call that exceeded its deadline.
	KindTimeout ProviderKind = "timeout"
	// KindMalformed is a response that could not be decoded or lacked fields.
	KindMalformed ProviderKind = "malformed"
	// KindStatus is any other non-2xx status.
	KindStatus ProviderKind = "status"
)

// ProviderError describes a failed call to an external model API.
type ProviderError struct {
	// Provider names the backend, e.g. "openai" or "ollama".
	Provider string
	// Kind classifies the failure.
	Kind ProviderKind
	// StatusCode is the HTTP status when one was received, else 0.
	StatusCode int
	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrProvider, ErrMalformedResponse for malformed responses,
// and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	errs := []error{ErrProvider}
	if e.Kind == KindMalformed {
		errs = append(errs, ErrMalformedResponse)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Timeout reports whether the call failed by exceeding its deadline.
func (e *ProviderError) Timeout() bool { return e.Kind == KindTimeout }

// TransportError classifies an error returned before any HTTP response was
// read: deadline expiry becomes KindTimeout, everything else KindNetwork.
func TransportError(provider string, err error) *ProviderError {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// StatusError classifies a non-2xx HTTP response.
func StatusError(provider string, status int, msg string) *ProviderError {
	kind := KindStatus
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusTooManyRequests:
		kind = KindRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = KindTimeout
	}
	var cause error
	if msg != "" {
		cause = errors.New(msg)
	}
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: cause}
}

// MalformedError reports a response that was received but unusable.
func MalformedError(provider, detail string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindMalformed, Err: errors.New(detail)}
}
