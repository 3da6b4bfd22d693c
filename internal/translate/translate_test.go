package translate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bloopmc/bloop/pkg/provider/llm"
	"github.com/bloopmc/bloop/pkg/provider/llm/mock"
	"github.com/bloopmc/bloop/pkg/types"
)

func TestTranslateCommand(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  types.Command
	}{
		{
			name:  "goto coordinates",
			reply: `{"command":"goto","x":100,"y":64,"z":-200}`,
			want:  types.Command{Verb: types.VerbGoto, Coords: &types.Vec3{X: 100, Y: 64, Z: -200}},
		},
		{
			name:  "goto saved name",
			reply: `{"command":"goto","name":"barn"}`,
			want:  types.Command{Verb: types.VerbGoto, Location: "barn"},
		},
		{
			name:  "hunt targets",
			reply: `{"command":"hunt","targets":["zombie","skeleton"]}`,
			want:  types.Command{Verb: types.VerbHunt, Targets: []string{"zombie", "skeleton"}},
		},
		{
			name:  "chat reply",
			reply: `{"command":"chat","message":"Just keeping watch!"}`,
			want:  types.Command{Verb: types.VerbChat, Text: "Just keeping watch!"},
		},
		{
			name:  "unknown",
			reply: `{"command":"unknown"}`,
			want:  types.Command{Verb: types.VerbUnknown},
		},
		{
			name:  "fenced reply with language tag",
			reply: "```json\n{\"command\":\"stop\"}\n```",
			want:  types.Command{Verb: types.VerbStop},
		},
		{
			name:  "fenced reply without tag",
			reply: "```\n{\"command\":\"chop\"}\n```",
			want:  types.Command{Verb: types.VerbChop},
		},
		{
			name:  "whitelist add",
			reply: `{"command":"whitelist","action":"add","player":"Steve"}`,
			want:  types.Command{Verb: types.VerbWhitelist, Action: types.WhitelistAdd, Player: "Steve"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: tt.reply},
			}
			tr := New(p)

			got, err := tr.Translate(context.Background(), "whatever the user said")
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if got.Verb != tt.want.Verb {
				t.Errorf("Verb = %q, want %q", got.Verb, tt.want.Verb)
			}
			if got.Text != tt.want.Text || got.Location != tt.want.Location || got.Player != tt.want.Player {
				t.Errorf("Translate() = %+v, want %+v", got, tt.want)
			}
			if tt.want.Coords != nil {
				if got.Coords == nil || *got.Coords != *tt.want.Coords {
					t.Errorf("Coords = %v, want %v", got.Coords, tt.want.Coords)
				}
			}
			if len(tt.want.Targets) > 0 {
				if len(got.Targets) != len(tt.want.Targets) {
					t.Fatalf("Targets = %v, want %v", got.Targets, tt.want.Targets)
				}
				for i := range tt.want.Targets {
					if got.Targets[i] != tt.want.Targets[i] {
						t.Errorf("Targets[%d] = %q, want %q", i, got.Targets[i], tt.want.Targets[i])
					}
				}
			}
		})
	}
}

func TestTranslateSendsPromptAndInput(t *testing.T) {
	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"command":"stop"}`},
	}
	tr := New(p)

	if _, err := tr.Translate(context.Background(), "please hold still"); err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	if got := p.CallCount(); got != 1 {
		t.Fatalf("CallCount() = %d, want 1", got)
	}
	req := p.CompleteCalls[0].Req
	if req.SystemPrompt == "" {
		t.Error("request sent without a system prompt")
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "please hold still" {
		t.Errorf("Messages = %+v, want the raw user text", req.Messages)
	}
}

func TestTranslateMalformedReplyNotRetried(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"plain text", "Sure! I'll head over there right away."},
		{"truncated object", `{"command":"goto","x":1`},
		{"unknown command value", `{"command":"dance"}`},
		{"schema violation", `{"command":"setfleehealth","health":99}`},
		{"missing field", `{"command":"follow"}`},
		{"empty reply", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: tt.reply},
			}
			tr := New(p)

			_, err := tr.Translate(context.Background(), "gibberish")
			if !errors.Is(err, ErrUnintelligible) {
				t.Fatalf("Translate() error = %v, want ErrUnintelligible", err)
			}
			if got := p.CallCount(); got != 1 {
				t.Errorf("CallCount() = %d, want 1 (malformed replies are not retried)", got)
			}
		})
	}
}

func TestTranslateTransportErrorRetried(t *testing.T) {
	p := &mock.Provider{CompleteErr: errors.New("connection refused")}
	tr := New(p, WithRetry(3, time.Millisecond))

	_, err := tr.Translate(context.Background(), "hello")
	if err == nil {
		t.Fatal("Translate() error = nil, want transport failure")
	}
	if got := p.CallCount(); got != 3 {
		t.Errorf("CallCount() = %d, want 3 retry attempts", got)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"{\"command\":\"stop\"}", `{"command":"stop"}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"```{\"a\":1}```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
