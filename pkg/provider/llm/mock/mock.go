// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the translator sends and
// to feed controlled replies without a live model backend. Set response
// fields before calling any method; when Responses is non-empty the replies
// are consumed in order, otherwise CompleteResponse is returned every time.
package mock

import (
	"context"
	"sync"

	"github.com/bloopmc/bloop/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values cause Complete to return an empty response and nil error.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete when Responses is empty.
	CompleteResponse *llm.CompletionResponse

	// Responses, when non-empty, is consumed one element per call.
	// After exhaustion Complete falls back to CompleteResponse.
	Responses []*llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by Complete.
	CompleteErr error

	// CompleteCalls records every invocation.
	CompleteCalls []CompleteCall
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.Responses) > 0 {
		resp := p.Responses[0]
		p.Responses = p.Responses[1:]
		return resp, nil
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}
	return &llm.CompletionResponse{}, nil
}

// CallCount returns how many times Complete has been invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}
