package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bloopmc/bloop/internal/config"
	"github.com/bloopmc/bloop/internal/executor"
	"github.com/bloopmc/bloop/internal/gameclient"
	"github.com/bloopmc/bloop/internal/health"
	"github.com/bloopmc/bloop/internal/journal"
	"github.com/bloopmc/bloop/internal/observe"
	"github.com/bloopmc/bloop/internal/store"
	"github.com/bloopmc/bloop/internal/translate"
	"github.com/bloopmc/bloop/pkg/types"
)

// ErrStopped is returned by Run after a clean, user-initiated shutdown.
var ErrStopped = errors.New("app: stopped")

// App owns the configured agents' lifecycles: per-agent connect/reconnect
// loops, the shared terminal router, and the optional metrics endpoint.
type App struct {
	cfg        *config.Config
	translator *translate.Translator
	locations  store.LocationStore
	journal    *journal.Journal
	metrics    *observe.Metrics
	probes     *health.Handler
	log        *slog.Logger
	input      io.Reader

	// dial is swappable for tests.
	dial func(ctx context.Context, url, agentName string) (*gameclient.Client, error)

	mu        sync.Mutex
	sessions  map[string]*Session
	remoteOut func(agent, text string)

	stop     context.CancelFunc
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithInput sets the terminal input stream. Defaults to os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.input = r }
}

// WithMetrics sets the metric instruments. Defaults to none.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithJournal sets the command journal. Defaults to none.
func WithJournal(j *journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// New creates the application from cfg. The translator and location store
// are created by the caller so main can pick the provider and storage
// backend.
func New(cfg *config.Config, translator *translate.Translator, locations store.LocationStore, opts ...Option) *App {
	a := &App{
		cfg:        cfg,
		translator: translator,
		locations:  locations,
		probes:     health.New(),
		log:        slog.Default(),
		input:      os.Stdin,
		sessions:   make(map[string]*Session),
	}
	a.dial = func(ctx context.Context, url, agentName string) (*gameclient.Client, error) {
		return gameclient.Dial(ctx, url, agentName, gameclient.WithLogger(a.log))
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run connects every configured agent and blocks until ctx is cancelled or
// an authorized quit stops the application. Returns nil on clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.stop = cancel

	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error { return a.serveMetrics(ctx, addr) })
	}

	for _, agentCfg := range a.cfg.Agents {
		g.Go(func() error { return a.runAgent(ctx, agentCfg) })
	}

	g.Go(func() error { return a.runTerminal(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// Shutdown requests a clean stop of all agents.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		if a.stop != nil {
			a.stop()
		}
	})
}

// Route delivers one line of input to the named agent's pipeline on behalf
// of issuer. Used by the terminal router and the chat bridge.
func (a *App) Route(ctx context.Context, agentName string, issuer types.Issuer, text string) error {
	a.mu.Lock()
	sess, ok := a.sessions[agentName]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("app: unknown agent %q", agentName)
	}
	err := sess.HandleInput(ctx, issuer, text)
	if errors.Is(err, executor.ErrShutdown) {
		a.Shutdown()
		return nil
	}
	return err
}

// SetRemoteOutput installs the reply sink for Discord-issued commands.
// Safe to call before or after agents connect.
func (a *App) SetRemoteOutput(fn func(agent, text string)) {
	a.mu.Lock()
	a.remoteOut = fn
	a.mu.Unlock()
}

func (a *App) remoteReply(agent, text string) {
	a.mu.Lock()
	fn := a.remoteOut
	a.mu.Unlock()
	if fn != nil {
		fn(agent, text)
	}
}

// AgentNames returns the currently connected agent names.
func (a *App) AgentNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.sessions))
	for name := range a.sessions {
		names = append(names, name)
	}
	return names
}

// runAgent maintains one agent's connection: dial, run until disconnect,
// reconnect after the configured delay. A context cancellation or a quit
// command ends the loop; an unexpected disconnect does not.
func (a *App) runAgent(ctx context.Context, agentCfg config.AgentConfig) error {
	log := a.log.With("agent", agentCfg.Name)
	url := fmt.Sprintf("ws://%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)

	a.probes.SetProbe("agent:"+agentCfg.Name, func(context.Context) error {
		if !a.hasSession(agentCfg.Name) {
			return errors.New("not connected")
		}
		return nil
	})
	defer a.probes.RemoveProbe("agent:" + agentCfg.Name)

	settings, err := store.LoadSettings(a.settingsPathFor(agentCfg.Name))
	if err != nil {
		return fmt.Errorf("app: load settings for %q: %w", agentCfg.Name, err)
	}

	first := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !first {
			if a.metrics != nil {
				a.metrics.Reconnects.Add(ctx, 1)
			}
			log.Info("reconnecting", "delay", a.cfg.Server.ReconnectDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.cfg.Server.ReconnectDelay):
			}
		}
		first = false

		client, err := a.dial(ctx, url, agentCfg.Name)
		if err != nil {
			log.Error("connect failed", "url", url, "error", err)
			continue
		}

		if err := a.runConnection(ctx, agentCfg, settings, client, log); err != nil {
			client.Close()
			return err
		}
		client.Close()
	}
}

// runConnection drives one connected session until the connection drops
// (returns nil, caller reconnects) or the app stops (returns the cause).
func (a *App) runConnection(ctx context.Context, agentCfg config.AgentConfig, settings *store.Settings, client *gameclient.Client, log *slog.Logger) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := NewSession(SessionConfig{
		Name:        agentCfg.Name,
		Admin:       agentCfg.Admin,
		TriggerWord: agentCfg.TriggerWord,
		Caps:        client,
		Settings:    settings,
		Locations:   a.locations,
		Translator:  a.translator,
		Journal:     a.journal,
		Metrics:     a.metrics,
		Logger:      a.log,
		TerminalOut: func(text string) { fmt.Printf("[%s] %s\n", agentCfg.Name, text) },
		RemoteOut:   func(text string) { a.remoteReply(agentCfg.Name, text) },
		OnShutdown:  a.Shutdown,
	})

	a.mu.Lock()
	a.sessions[agentCfg.Name] = sess
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.sessions, agentCfg.Name)
		a.mu.Unlock()
	}()

	if a.metrics != nil {
		a.metrics.ActiveAgents.Add(ctx, 1)
		defer a.metrics.ActiveAgents.Add(ctx, -1)
	}

	disconnected := make(chan string, 1)
	sess.Subscribe(connCtx, client, func(reason string) {
		select {
		case disconnected <- reason:
		default:
		}
	})

	// Guard loop.
	go func() {
		if err := sess.Arbiter().Run(connCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("arbiter loop ended", "error", err)
		}
	}()

	log.Info("connected", "url", fmt.Sprintf("ws://%s:%d", a.cfg.Server.Host, a.cfg.Server.Port))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case reason := <-disconnected:
		log.Warn("disconnected", "reason", reason)
		return nil
	}
}

// runTerminal reads the local console: `<agent> <command...>` with multiple
// agents, bare commands with a single one. Terminal input bypasses the
// permission gate by design — whoever holds the console owns the process.
func (a *App) runTerminal(ctx context.Context) error {
	scanner := bufio.NewScanner(a.input)
	single := len(a.cfg.Agents) == 1

	if single {
		a.log.Info("terminal ready, type commands or free text")
	} else {
		a.log.Info("terminal ready, format: <agent> <command>", "agents", len(a.cfg.Agents))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// Input closed (EOF). Keep the agents running.
				<-ctx.Done()
				return ctx.Err()
			}
			a.routeTerminalLine(ctx, line, single)
		}
	}
}

func (a *App) routeTerminalLine(ctx context.Context, line string, single bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	agentName := a.cfg.Agents[0].Name
	text := line
	if !single {
		name, rest, _ := strings.Cut(line, " ")
		if !a.hasSession(name) {
			fmt.Printf("Unknown agent %q. Available: %s\n", name, strings.Join(a.AgentNames(), ", "))
			return
		}
		agentName, text = name, strings.TrimSpace(rest)
	}

	if err := a.Route(ctx, agentName, types.Terminal, text); err != nil {
		a.log.Error("terminal command failed", "agent", agentName, "error", err)
	}
}

func (a *App) hasSession(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[name]
	return ok
}

// settingsPathFor derives a per-agent settings file from the configured
// path: saves/settings.json becomes saves/<name>.settings.json when more
// than one agent is configured.
func (a *App) settingsPathFor(name string) string {
	base := a.cfg.Storage.SettingsPath
	if len(a.cfg.Agents) <= 1 {
		return base
	}
	dir, file := filepath.Split(base)
	return filepath.Join(dir, name+"."+file)
}

func (a *App) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	observe.Register(mux)
	a.probes.Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: metrics server: %w", err)
	}
}
