// Package app wires the subsystems into a running application: one Session
// per configured agent, a shared terminal router, and the reconnect loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bloopmc/bloop/internal/agent"
	"github.com/bloopmc/bloop/internal/arbiter"
	"github.com/bloopmc/bloop/internal/command"
	"github.com/bloopmc/bloop/internal/executor"
	"github.com/bloopmc/bloop/internal/journal"
	"github.com/bloopmc/bloop/internal/observe"
	"github.com/bloopmc/bloop/internal/store"
	"github.com/bloopmc/bloop/internal/translate"
	"github.com/bloopmc/bloop/pkg/types"
)

// Session owns one agent's full command pipeline: parser, permission gate,
// AI translator, behavior arbiter, and executor, plus the agent's settings
// and behavior state.
type Session struct {
	name        string
	triggerWord string

	caps       agent.Capability
	arb        *arbiter.Arbiter
	exec       *executor.Executor
	translator *translate.Translator
	gate       *command.Gate
	settings   *store.Settings
	journal    *journal.Journal
	metrics    *observe.Metrics
	log        *slog.Logger

	// terminalOut delivers replies for terminal-issued commands.
	terminalOut func(text string)

	// remoteOut delivers replies for Discord-issued commands.
	remoteOut func(text string)

	// inputs feeds the pipeline worker started by Subscribe.
	inputs chan queuedInput

	// onShutdown is invoked when an authorized quit is executed.
	onShutdown func()
}

// queuedInput is one chat/whisper line awaiting the pipeline worker.
type queuedInput struct {
	ctx    context.Context
	issuer types.Issuer
	text   string
}

// inputQueueSize bounds lines buffered ahead of the pipeline worker.
const inputQueueSize = 64

// SessionConfig collects the collaborators for NewSession.
type SessionConfig struct {
	Name        string
	Admin       string
	TriggerWord string
	Caps        agent.Capability
	Settings    *store.Settings
	Locations   store.LocationStore
	Translator  *translate.Translator
	Journal     *journal.Journal
	Metrics     *observe.Metrics
	Logger      *slog.Logger
	TerminalOut func(text string)

	// RemoteOut delivers replies for commands issued over the Discord
	// bridge. Nil falls back to in-game chat.
	RemoteOut func(text string)

	// OnShutdown is invoked when an authorized quit command executes.
	OnShutdown func()
}

// NewSession assembles the pipeline for one agent.
func NewSession(cfg SessionConfig) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("agent", cfg.Name)

	arb := arbiter.New(cfg.Caps, cfg.Settings,
		arbiter.WithLogger(log), arbiter.WithMetrics(cfg.Metrics))
	exec := executor.New(cfg.Caps, arb, cfg.Settings, cfg.Locations, executor.WithLogger(log))

	s := &Session{
		name:        cfg.Name,
		triggerWord: cfg.TriggerWord,
		caps:        cfg.Caps,
		arb:         arb,
		exec:        exec,
		translator:  cfg.Translator,
		gate: &command.Gate{
			Admin:     cfg.Admin,
			IsTrusted: cfg.Settings.IsTrusted,
		},
		settings:    cfg.Settings,
		journal:     cfg.Journal,
		metrics:     cfg.Metrics,
		log:         log,
		terminalOut: cfg.TerminalOut,
		remoteOut:   cfg.RemoteOut,
		inputs:      make(chan queuedInput, inputQueueSize),
		onShutdown:  cfg.OnShutdown,
	}
	if s.terminalOut == nil {
		s.terminalOut = func(text string) { log.Info("reply", "text", text) }
	}
	return s
}

// Name returns the agent's name.
func (s *Session) Name() string { return s.name }

// Arbiter exposes the session's behavior arbiter for event wiring and the
// guard loop.
func (s *Session) Arbiter() *arbiter.Arbiter { return s.arb }

// Subscribe wires the capability's event stream into the pipeline: chat and
// whispers feed HandleInput, the remaining events feed the arbiter.
// onDisconnect is invoked after the arbiter reset so the connection loop
// can decide whether to reconnect.
//
// Chat and whisper lines are queued to a single worker goroutine, so
// commands execute in the order their events arrived. Stop stays prompt
// regardless: a queued stop is the next line the worker sees.
func (s *Session) Subscribe(ctx context.Context, src agent.EventSource, onDisconnect func(reason string)) {
	go s.consumeInputs(ctx)
	src.Subscribe(agent.Events{
		OnChat: func(from, message string) {
			if strings.EqualFold(from, s.name) {
				// Own chat echo; feeding it back would loop.
				return
			}
			s.enqueue(ctx, types.Issuer{Name: from, Channel: types.ChannelChat}, message)
		},
		OnWhisper: func(from, message string) {
			if strings.EqualFold(from, s.name) {
				return
			}
			s.enqueue(ctx, types.Issuer{Name: from, Channel: types.ChannelWhisper}, message)
		},
		OnHealth:        s.arb.HandleHealth,
		OnHurt:          s.arb.HandleHurt,
		OnTime:          s.arb.HandleTime,
		OnAttackStopped: s.arb.HandleAttackStopped,
		OnSpawn:         s.arb.HandleSpawn,
		OnDeath:         s.arb.HandleDeath,
		OnDisconnect: func(reason string) {
			s.arb.HandleDisconnect(reason)
			if onDisconnect != nil {
				onDisconnect(reason)
			}
		},
	})
}

// enqueue hands one line to the pipeline worker. The event-ingest callback
// must not block, so a full queue drops the line with a warning instead of
// stalling the reader.
func (s *Session) enqueue(ctx context.Context, issuer types.Issuer, text string) {
	select {
	case s.inputs <- queuedInput{ctx: ctx, issuer: issuer, text: text}:
	default:
		s.log.Warn("input queue full, dropping line", "issuer", issuer.Name)
	}
}

// consumeInputs is the pipeline worker: one goroutine per session, so lines
// from the same connection run in arrival order.
func (s *Session) consumeInputs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-s.inputs:
			err := s.HandleInput(in.ctx, in.issuer, in.text)
			switch {
			case errors.Is(err, executor.ErrShutdown):
				if s.onShutdown != nil {
					s.onShutdown()
				}
			case err != nil:
				s.log.Error("command pipeline failed", "issuer", in.issuer.Name, "error", err)
			}
		}
	}
}

// HandleInput runs the full pipeline on one line of input: parse, translate
// when no literal matches, authorize, execute. The returned error is
// [executor.ErrShutdown] for an authorized quit; all other failures degrade
// to user feedback or logs.
func (s *Session) HandleInput(ctx context.Context, issuer types.Issuer, text string) error {
	start := time.Now()
	reply := s.replier(issuer)

	cmd, err := command.Parse(text)

	var usage *command.UsageError
	switch {
	case errors.As(err, &usage):
		reply(usage.Usage)
		s.record(ctx, issuer, text, cmd, "unparsed", start)
		return nil
	case errors.Is(err, command.ErrNoMatch):
		if !s.shouldTranslate(issuer, text) {
			// Ordinary chat traffic not addressed to the agent.
			return nil
		}
		cmd, err = s.translate(ctx, text, reply)
		if err != nil {
			s.record(ctx, issuer, text, cmd, "unparsed", start)
			return nil
		}
	case err != nil:
		return fmt.Errorf("app: parse: %w", err)
	}

	return s.dispatch(ctx, issuer, text, cmd, reply, true, start)
}

// dispatch authorizes and executes cmd. allowFailover permits one translator
// invocation when a goto name resolves to nothing; the translated command
// re-enters dispatch with failover disabled so a confused model cannot loop.
func (s *Session) dispatch(ctx context.Context, issuer types.Issuer, text string, cmd types.Command, reply executor.Replier, allowFailover bool, start time.Time) error {
	if s.gate.Authorize(issuer, cmd) != command.Allowed {
		// Silent drop: unauthorized issuers learn nothing.
		s.log.Debug("command denied", "issuer", issuer.Name, "verb", string(cmd.Verb))
		if s.metrics != nil {
			s.metrics.RecordDenial(ctx, string(cmd.Verb))
		}
		s.record(ctx, issuer, text, cmd, "denied", start)
		return nil
	}

	err := s.exec.Execute(ctx, cmd, reply)
	switch {
	case err == nil:
		s.record(ctx, issuer, text, cmd, "executed", start)
		return nil
	case errors.Is(err, executor.ErrShutdown):
		s.record(ctx, issuer, text, cmd, "executed", start)
		return err
	case errors.Is(err, executor.ErrUnknownLocation) && allowFailover && text != "":
		translated, terr := s.translate(ctx, text, reply)
		if terr != nil {
			s.record(ctx, issuer, text, cmd, "unparsed", start)
			return nil
		}
		return s.dispatch(ctx, issuer, text, translated, reply, false, start)
	default:
		s.log.Error("command failed", "verb", string(cmd.Verb), "error", err)
		reply("Something went wrong with that.")
		s.record(ctx, issuer, text, cmd, "error", start)
		return nil
	}
}

// translate invokes the AI translator and reports failures to the issuer.
func (s *Session) translate(ctx context.Context, text string, reply executor.Replier) (types.Command, error) {
	start := time.Now()
	cmd, err := s.translator.Translate(ctx, text)
	if err != nil {
		status := "transport_error"
		if errors.Is(err, translate.ErrUnintelligible) {
			status = "unintelligible"
		}
		if s.metrics != nil {
			s.metrics.RecordTranslation(ctx, status, time.Since(start))
		}
		s.log.Warn("translation failed", "error", err)
		reply("I didn't understand that.")
		return types.Command{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordTranslation(ctx, "ok", time.Since(start))
	}
	return cmd, nil
}

// shouldTranslate applies the translation gate: terminal free text always
// goes to the model, chat only when it mentions the trigger word.
func (s *Session) shouldTranslate(issuer types.Issuer, text string) bool {
	if issuer.IsTerminal() {
		return true
	}
	if s.triggerWord == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(s.triggerWord))
}

// replier routes feedback to where the command came from: terminal output,
// a whisper back to the sender, or public chat.
func (s *Session) replier(issuer types.Issuer) executor.Replier {
	switch {
	case issuer.IsTerminal():
		return s.terminalOut
	case issuer.Channel == types.ChannelWhisper:
		name := issuer.Name
		return func(text string) { s.caps.Whisper(name, text) }
	case issuer.Channel == types.ChannelDiscord && s.remoteOut != nil:
		return s.remoteOut
	default:
		return s.caps.Say
	}
}

func (s *Session) record(ctx context.Context, issuer types.Issuer, text string, cmd types.Command, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordCommand(ctx, string(cmd.Verb), string(issuer.Channel), outcome, time.Since(start))
	}
	if s.journal != nil {
		s.journal.Append(journal.Entry{
			Agent:   s.name,
			Issuer:  issuer.Name,
			Channel: string(issuer.Channel),
			Input:   text,
			Verb:    string(cmd.Verb),
			Outcome: outcome,
		})
	}
}
