// Package llm defines the Provider interface for the language-model backends
// used by the command translator.
//
// A provider wraps a remote or local model API (a local Ollama instance by
// default) and exposes a uniform non-streaming completion call. Translation
// needs exactly one short JSON object per request, so streaming is
// deliberately absent from this interface.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import (
	"context"

	"github.com/bloopmc/bloop/pkg/types"
)

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []types.Message

	// SystemPrompt is a high-priority instruction injected before the
	// conversation. Implementors that lack a dedicated system field prepend
	// it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Translation
	// callers use 0 for near-deterministic output.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the full, non-streamed model reply.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string
}

// Provider is the abstraction over any language-model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
