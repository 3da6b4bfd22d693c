// Command bloop connects one or more AI-driven agents to a Minecraft-style
// game server and controls them through chat, whispers, the local terminal,
// and an optional Discord channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/bloopmc/bloop/internal/app"
	"github.com/bloopmc/bloop/internal/config"
	"github.com/bloopmc/bloop/internal/discordbridge"
	"github.com/bloopmc/bloop/internal/journal"
	"github.com/bloopmc/bloop/internal/observe"
	"github.com/bloopmc/bloop/internal/store"
	"github.com/bloopmc/bloop/internal/store/postgres"
	"github.com/bloopmc/bloop/internal/translate"
	"github.com/bloopmc/bloop/pkg/provider/llm"
	"github.com/bloopmc/bloop/pkg/provider/llm/anyllm"
	"github.com/bloopmc/bloop/pkg/provider/llm/ollama"
	"github.com/bloopmc/bloop/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "bloop: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "bloop: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("bloop starting",
		"config", *configPath,
		"server", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"agents", len(cfg.Agents),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Translator ────────────────────────────────────────────────────────────
	provider, err := buildProvider(cfg.Translate)
	if err != nil {
		slog.Error("failed to build language-model provider", "err", err)
		return 1
	}
	translator := translate.New(provider, translate.WithLogger(logger))

	// ── Storage ───────────────────────────────────────────────────────────────
	var locations store.LocationStore
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pg, err := postgres.Open(ctx, dsn)
		if err != nil {
			slog.Error("failed to open postgres location store", "err", err)
			return 1
		}
		defer pg.Close()
		locations = pg
		slog.Info("locations stored in postgres")
	} else {
		fl, err := store.OpenFileLocations(cfg.Storage.LocationsPath)
		if err != nil {
			slog.Error("failed to open location store", "err", err, "path", cfg.Storage.LocationsPath)
			return 1
		}
		locations = fl
	}

	opts := []app.Option{app.WithLogger(logger), app.WithMetrics(metrics)}
	if path := cfg.Storage.JournalPath; path != "" {
		jnl, err := journal.Open(path)
		if err != nil {
			slog.Error("failed to open command journal", "err", err, "path", path)
			return 1
		}
		defer jnl.Close()
		opts = append(opts, app.WithJournal(jnl))
	}

	application := app.New(cfg, translator, locations, opts...)

	// ── Discord bridge (optional) ─────────────────────────────────────────────
	if cfg.Discord.Token != "" {
		bridge, err := discordbridge.New(cfg.Discord, application, len(cfg.Agents) == 1,
			discordbridge.WithLogger(logger))
		if err != nil {
			slog.Error("failed to connect Discord bridge", "err", err)
			return 1
		}
		defer bridge.Close()
		application.SetRemoteOutput(bridge.Send)
		slog.Info("discord bridge connected", "channel_id", cfg.Discord.ChannelID)
	}

	slog.Info("ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// buildProvider constructs the language-model backend for command
// translation. Ollama is the default; "openai" uses the chat completions
// API directly; any other name goes through the any-llm multi-provider
// layer.
func buildProvider(cfg config.TranslateConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		var opts []ollama.Option
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, ollama.WithTimeout(cfg.Timeout))
		}
		return ollama.New(cfg.Model, opts...)

	case "openai":
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(cfg.Timeout))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)

	default:
		var opts []anyllmlib.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New(cfg.Provider, cfg.Model, opts...)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
