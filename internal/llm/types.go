package llm

import (
	"errors"
	"fmt"
	"strings"

	"buddyline/internal/personality"
)

// GenerationRequest is everything a backend needs for one reply.
// SystemPrompt is the fully rendered buddy prompt; UserMessage is the raw
// live message so each adapter can shape its own envelope.
type GenerationRequest struct {
	SystemPrompt    string
	UserMessage     string
	BuddyName       string
	PersonalityType personality.Type
	Temperature     float64
}

// CallOptions are the sampling limits the orchestrator applies to every call.
type CallOptions struct {
	MaxTokens int
	TopP      float64
	Stop      []string
}

// GenerationResult is always usable: Text is never empty. Err is set when
// the text came from the fallback pool because a backend failed.
type GenerationResult struct {
	Text     string `json:"text"`
	Backend  string `json:"backend,omitempty"`
	Fallback bool   `json:"fallback"`
	Err      error  `json:"-"`
}

// ErrorType classifies backend errors.
type ErrorType int

const (
	ErrorUnknown      ErrorType = iota
	ErrorRateLimit              // 429
	ErrorAuth                   // 401/403
	ErrorInvalidInput           // 400
	ErrorServerError            // 500+
	ErrorTimeout                // context deadline exceeded
	ErrorNetwork                // connection refused, DNS, etc.
	ErrorMalformed              // unparseable or empty response body
)

func (t ErrorType) String() string {
	switch t {
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorAuth:
		return "auth"
	case ErrorInvalidInput:
		return "invalid_input"
	case ErrorServerError:
		return "server_error"
	case ErrorTimeout:
		return "timeout"
	case ErrorNetwork:
		return "network"
	case ErrorMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// BackendError wraps an adapter failure with its classification.
type BackendError struct {
	Backend string
	Type    ErrorType
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend (%s): %v", e.Backend, e.Type, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ErrNotConfigured is returned by probes of backends missing credentials.
var ErrNotConfigured = errors.New("backend not configured")

// classify maps an HTTP status (0 when unknown) and error text onto an
// ErrorType.
func classify(backend string, status int, err error) *BackendError {
	be := &BackendError{Backend: backend, Err: err}
	if err == nil {
		return be
	}
	switch {
	case status == 401 || status == 403:
		be.Type = ErrorAuth
		return be
	case status == 429:
		be.Type = ErrorRateLimit
		return be
	case status == 400 || status == 404 || status == 422:
		be.Type = ErrorInvalidInput
		return be
	case status >= 500:
		be.Type = ErrorServerError
		return be
	}

	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, ErrNotConfigured):
		be.Type = ErrorAuth
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication"):
		be.Type = ErrorAuth
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit"):
		be.Type = ErrorRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		be.Type = ErrorTimeout
	case strings.Contains(lower, "connection") || strings.Contains(lower, "dns") ||
		strings.Contains(lower, "refused") || strings.Contains(lower, "no such host"):
		be.Type = ErrorNetwork
	case strings.Contains(lower, "decode") || strings.Contains(lower, "unmarshal") || strings.Contains(lower, "empty response"):
		be.Type = ErrorMalformed
	default:
		be.Type = ErrorUnknown
	}
	return be
}
