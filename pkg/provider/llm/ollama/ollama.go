// Package ollama provides an LLM provider that speaks the Ollama /api/chat
// REST wire format directly:
//
//	POST {base}/api/chat
//	{ "model": ..., "messages": [{"role": ..., "content": ...}, ...], "stream": false }
//
// The expected reply body is { "message": { "content": "<string>" } }.
// Non-2xx responses and transport failures are surfaced as errors.
//
// This is the default backend for the command translator and the only one
// that does not pull in a provider SDK — the agent usually runs next to a
// local Ollama instance.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bloopmc/bloop/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultTimeout = 30 * time.Second
	chatEndpoint   = "/api/chat"
)

// Provider implements [llm.Provider] against an Ollama server.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

// Option is a functional option for [New].
type Option func(*Provider)

// WithBaseURL overrides the default http://localhost:11434 endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.client.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client entirely.
// Useful in tests with httptest servers.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// New constructs a Provider for the given model.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	p := &Provider{
		baseURL: defaultBaseURL,
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the /api/chat reply body we consume.
type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 && req.SystemPrompt == "" {
		return nil, fmt.Errorf("ollama: empty completion request")
	}

	body := chatRequest{
		Model:  p.model,
		Stream: false,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage(m))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama: %s returned %d: %s", chatEndpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	return &llm.CompletionResponse{Content: out.Message.Content}, nil
}
