package discordbridge

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bloopmc/bloop/pkg/types"
)

type routeCall struct {
	agent  string
	issuer types.Issuer
	text   string
}

type fakeRouter struct {
	agents []string
	err    error
	calls  []routeCall
}

func (r *fakeRouter) Route(_ context.Context, agent string, issuer types.Issuer, text string) error {
	r.calls = append(r.calls, routeCall{agent: agent, issuer: issuer, text: text})
	return r.err
}

func (r *fakeRouter) AgentNames() []string { return r.agents }

func newTestBridge(router Router, single bool) (*Bridge, *[]string) {
	var sent []string
	b := &Bridge{
		router: router,
		single: single,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	b.send = func(agent, text string) { sent = append(sent, agent+": "+text) }
	return b, &sent
}

func TestHandleMessageRoutesWithAgentPrefix(t *testing.T) {
	router := &fakeRouter{agents: []string{"alpha", "beta"}}
	b, _ := newTestBridge(router, false)

	b.handleMessage("MrBoss", "alpha goto base")

	if len(router.calls) != 1 {
		t.Fatalf("Route called %d times, want 1", len(router.calls))
	}
	call := router.calls[0]
	if call.agent != "alpha" || call.text != "goto base" {
		t.Errorf("routed (%q, %q), want (alpha, goto base)", call.agent, call.text)
	}
	if call.issuer.Name != "MrBoss" || call.issuer.Channel != types.ChannelDiscord {
		t.Errorf("issuer = %+v, want MrBoss on discord channel", call.issuer)
	}
}

func TestHandleMessageSingleAgentBareCommand(t *testing.T) {
	router := &fakeRouter{agents: []string{"alpha"}}
	b, _ := newTestBridge(router, true)

	b.handleMessage("MrBoss", "stop")

	if len(router.calls) != 1 {
		t.Fatalf("Route called %d times, want 1", len(router.calls))
	}
	if got := router.calls[0]; got.agent != "alpha" || got.text != "stop" {
		t.Errorf("routed (%q, %q), want (alpha, stop)", got.agent, got.text)
	}
}

func TestHandleMessageUnknownAgentListsAvailable(t *testing.T) {
	router := &fakeRouter{agents: []string{"alpha", "beta"}, err: context.Canceled}
	b, sent := newTestBridge(router, false)

	b.handleMessage("MrBoss", "ghost stop")

	if len(*sent) != 1 || !strings.Contains((*sent)[0], "alpha, beta") {
		t.Errorf("expected reply listing agents, got %v", *sent)
	}
}

func TestHandleMessageIgnoresEmpty(t *testing.T) {
	router := &fakeRouter{agents: []string{"alpha"}}
	b, _ := newTestBridge(router, true)

	b.handleMessage("MrBoss", "   ")

	if len(router.calls) != 0 {
		t.Errorf("Route called for empty message: %v", router.calls)
	}
}
