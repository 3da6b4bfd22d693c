// Package translate turns free-form text into typed agent commands by
// consulting a language-model endpoint.
//
// The model is instructed to reply with a single JSON object from a fixed
// grammar. Transport failures are retried within a circuit breaker; a
// malformed reply is never retried — a systematic prompt/response mismatch
// would only hammer the model and add latency. Malformed replies surface as
// [ErrUnintelligible], which the caller reports as an inability to
// understand.
package translate

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bloopmc/bloop/internal/command"
	"github.com/bloopmc/bloop/internal/resilience"
	"github.com/bloopmc/bloop/pkg/provider/llm"
	"github.com/bloopmc/bloop/pkg/types"
)

// ErrUnintelligible is returned when the model's reply cannot be mapped to
// a command: not JSON, schema violation, or an unrecognized shape.
var ErrUnintelligible = errors.New("translate: reply not understood")

//go:embed schema.json
var schemaJSON string

var commandSchema = jsonschema.MustCompileString("command.schema.json", schemaJSON)

const (
	defaultAttempts = 2
	defaultDelay    = time.Second
	temperature     = 0.1
	maxTokens       = 256
)

// Translator converts raw text into commands through an [llm.Provider].
type Translator struct {
	provider llm.Provider
	breaker  *resilience.Breaker
	log      *slog.Logger
	attempts int
	delay    time.Duration
}

// Option configures a Translator.
type Option func(*Translator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(t *Translator) { t.log = log }
}

// WithRetry sets the transport retry policy.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(t *Translator) {
		t.attempts = attempts
		t.delay = delay
	}
}

// WithBreaker sets the circuit breaker guarding the model endpoint.
func WithBreaker(b *resilience.Breaker) Option {
	return func(t *Translator) { t.breaker = b }
}

// New creates a Translator backed by p.
func New(p llm.Provider, opts ...Option) *Translator {
	t := &Translator{
		provider: p,
		breaker:  resilience.NewBreaker(3, 30*time.Second),
		log:      slog.Default(),
		attempts: defaultAttempts,
		delay:    defaultDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate sends text to the model and decodes the reply into a command.
// Transport errors are retried; malformed replies are not.
func (t *Translator) Translate(ctx context.Context, text string) (types.Command, error) {
	start := time.Now()

	var reply string
	err := t.breaker.Execute(func() error {
		return resilience.Retry(ctx, t.attempts, t.delay, func() error {
			resp, err := t.provider.Complete(ctx, llm.CompletionRequest{
				SystemPrompt: systemPrompt,
				Messages: []types.Message{
					{Role: "user", Content: text},
				},
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return err
			}
			reply = resp.Content
			return nil
		})
	})
	if err != nil {
		return types.Command{}, fmt.Errorf("translate: model request: %w", err)
	}

	cmd, err := decodeReply(reply)
	if err != nil {
		t.log.Warn("model reply rejected", "error", err, "reply_len", len(reply))
		return types.Command{}, err
	}
	t.log.Debug("translated input",
		"command", string(cmd.Verb),
		"duration", time.Since(start))
	return cmd, nil
}

// decodeReply strips code fences, checks the object shape, validates the
// reply against the command schema and decodes it.
func decodeReply(reply string) (types.Command, error) {
	payload := stripFences(reply)
	if !strings.HasPrefix(payload, "{") || !strings.HasSuffix(payload, "}") {
		return types.Command{}, fmt.Errorf("%w: reply is not a JSON object", ErrUnintelligible)
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return types.Command{}, fmt.Errorf("%w: %v", ErrUnintelligible, err)
	}
	if err := commandSchema.Validate(doc); err != nil {
		return types.Command{}, fmt.Errorf("%w: %v", ErrUnintelligible, err)
	}

	cmd, err := command.DecodeAI(json.RawMessage(payload))
	if err != nil {
		return types.Command{}, fmt.Errorf("%w: %v", ErrUnintelligible, err)
	}
	return cmd, nil
}

// stripFences removes a surrounding Markdown code fence, with or without a
// language tag, and trims whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "" || !strings.ContainsAny(first, "{}") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
