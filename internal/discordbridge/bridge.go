// Package discordbridge relays messages from a Discord text channel into
// the agent command pipeline and posts replies back to the same channel.
// The permission gate sees Discord authors like in-game chat senders, so
// only the admin and trusted names get anywhere.
package discordbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/bloopmc/bloop/internal/config"
	"github.com/bloopmc/bloop/pkg/types"
)

// Router dispatches one line of input to a named agent. *app.App satisfies
// this.
type Router interface {
	Route(ctx context.Context, agentName string, issuer types.Issuer, text string) error
	AgentNames() []string
}

// Bridge owns the discordgo session lifecycle for one text channel.
type Bridge struct {
	session   *discordgo.Session
	channelID string
	router    Router
	single    bool
	log       *slog.Logger
	closeOnce sync.Once

	// send is swappable for tests.
	send func(agent, text string)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// New connects to Discord and starts relaying messages from the configured
// channel. singleAgent allows bare commands without an agent-name prefix.
func New(cfg config.DiscordConfig, router Router, singleAgent bool, opts ...Option) (*Bridge, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discordbridge: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	b := &Bridge{
		session:   session,
		channelID: cfg.ChannelID,
		router:    router,
		single:    singleAgent,
		log:       slog.Default(),
	}
	b.send = b.sendMessage
	for _, opt := range opts {
		opt(b)
	}

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.ChannelID != b.channelID {
			return
		}
		b.handleMessage(m.Author.Username, m.Content)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discordbridge: open session: %w", err)
	}
	return b, nil
}

// Send posts a reply to the bridged channel, prefixed with the agent name.
func (b *Bridge) Send(agent, text string) {
	b.send(agent, text)
}

func (b *Bridge) sendMessage(agent, text string) {
	if _, err := b.session.ChannelMessageSend(b.channelID, fmt.Sprintf("**%s**: %s", agent, text)); err != nil {
		b.log.Warn("discord reply failed", "error", err)
	}
}

// Close disconnects from Discord.
func (b *Bridge) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		closeErr = b.session.Close()
	})
	return closeErr
}

// handleMessage parses the agent prefix and hands the rest to the router.
// Split out from the discordgo handler so tests can drive it directly.
func (b *Bridge) handleMessage(author, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	agentName := ""
	text := content
	if b.single {
		names := b.router.AgentNames()
		if len(names) == 0 {
			return
		}
		agentName = names[0]
	} else {
		name, rest, _ := strings.Cut(content, " ")
		agentName, text = name, strings.TrimSpace(rest)
	}

	issuer := types.Issuer{Name: author, Channel: types.ChannelDiscord}
	if err := b.router.Route(context.Background(), agentName, issuer, text); err != nil {
		b.log.Warn("discord command not routed", "agent", agentName, "author", author, "error", err)
		b.Send(agentName, fmt.Sprintf("Unknown agent. Available: %s", strings.Join(b.router.AgentNames(), ", ")))
	}
}
