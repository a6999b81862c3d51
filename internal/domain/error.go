package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrModelNotAllowed    = errors.New("model not in the allowed list")
	ErrCredentialMissing  = errors.New("no provider credential available")
	ErrConversationBusy   = errors.New("conversation already has a job in flight")
	ErrInvalidExecContext = errors.New("invalid query executor")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// ErrorKind buckets a processing failure for the stream `error` event and for
// the kind-aware retry mode of the queue.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindServerError       ErrorKind = "server_error"
	KindRateLimit         ErrorKind = "rate_limit"
	KindClientError       ErrorKind = "client_error"
	KindModelNotAllowed   ErrorKind = "model_not_allowed"
	KindCredentialMissing ErrorKind = "credential_missing"
	KindContextNotFound   ErrorKind = "context_not_found"
	KindUnknown           ErrorKind = "unknown"
)

// Retriable reports whether a kind is considered transient. Timeouts,
// upstream 5xx and rate limits may succeed on a later attempt; everything
// else will fail the same way every time.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindTimeout, KindServerError, KindRateLimit:
		return true
	}
	return false
}

// ProviderError wraps a failure reported by an AI provider, keeping the
// upstream HTTP status around for classification.
type ProviderError struct {
	Kind   ErrorKind
	Status int
	Msg    string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider: %s (http %d)", e.Msg, e.Status)
	}
	return "provider: " + e.Msg
}

// NewProviderError classifies an upstream HTTP status into a kind.
func NewProviderError(status int, msg string) *ProviderError {
	kind := KindUnknown
	switch {
	case status == 429:
		kind = KindRateLimit
	case status >= 500:
		kind = KindServerError
	case status >= 400:
		kind = KindClientError
	}
	return &ProviderError{Kind: kind, Status: status, Msg: msg}
}

// Classify maps any error raised during job processing onto the taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrModelNotAllowed):
		return KindModelNotAllowed
	case errors.Is(err, ErrCredentialMissing):
		return KindCredentialMissing
	case errors.Is(err, ErrNotFound):
		return KindContextNotFound
	}
	return KindUnknown
}
