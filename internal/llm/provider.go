package llm

import "context"

// Backend is the interface every text-generation adapter implements.
type Backend interface {
	// Name returns the backend name ("local", "openai", "anthropic").
	Name() string

	// Probe reports whether the backend is reachable and usable.
	Probe(ctx context.Context) error

	// Generate returns the raw completion text for req. Errors should be
	// *BackendError.
	Generate(ctx context.Context, req GenerationRequest, opts CallOptions) (string, error)
}
