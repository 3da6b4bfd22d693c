// Package config provides the configuration schema and loader for the bloop
// agent controller.
package config

import "time"

// LogLevel controls log verbosity for the bloop process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for bloop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Agents    []AgentConfig   `yaml:"agents"`
	Translate TranslateConfig `yaml:"translate"`
	Storage   StorageConfig   `yaml:"storage"`
	Discord   DiscordConfig   `yaml:"discord"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig locates the game server and sets process-wide options.
type ServerConfig struct {
	// Host is the game server hostname or IP.
	Host string `yaml:"host"`

	// Port is the game server port.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ReconnectDelay is how long to wait before reconnecting after an
	// unexpected disconnect. Defaults to 5s.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// AgentConfig describes one controlled agent.
type AgentConfig struct {
	// Name is the agent's in-game username.
	Name string `yaml:"name"`

	// Admin is the player name whose commands bypass all permission gates.
	Admin string `yaml:"admin"`

	// TriggerWord routes unmatched chat text to the AI translator when it
	// appears in the message. Defaults to the agent name.
	TriggerWord string `yaml:"trigger_word"`
}

// TranslateConfig selects and locates the language-model backend used for
// natural-language command translation.
type TranslateConfig struct {
	// Provider selects the backend: "ollama" (default), "openai", or any
	// provider name accepted by any-llm ("anthropic", "groq", ...).
	Provider string `yaml:"provider"`

	// BaseURL overrides the provider's default endpoint
	// (e.g., "http://localhost:11434" for a local Ollama instance).
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier (e.g., "llama3.1").
	Model string `yaml:"model"`

	// APIKey authenticates against hosted providers. Unused by Ollama.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single translation request. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds persistence paths and the optional shared backend.
type StorageConfig struct {
	// SettingsPath is the per-agent settings JSON file. The agent name is
	// appended before the extension when multiple agents are configured.
	SettingsPath string `yaml:"settings_path"`

	// LocationsPath is the saved-locations JSON file.
	LocationsPath string `yaml:"locations_path"`

	// PostgresDSN, when set, stores locations in PostgreSQL instead of the
	// flat JSON file so that several agents can share one location set.
	PostgresDSN string `yaml:"postgres_dsn"`

	// JournalPath is the SQLite command/event journal. Empty disables it.
	JournalPath string `yaml:"journal_path"`
}

// DiscordConfig enables the optional Discord remote-control bridge.
type DiscordConfig struct {
	// Token is the bot token. Empty disables the bridge.
	Token string `yaml:"token"`

	// ChannelID restricts the bridge to one text channel.
	ChannelID string `yaml:"channel_id"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// ListenAddr is the address the /metrics server binds to
	// (e.g., ":9301"). Empty disables metrics.
	ListenAddr string `yaml:"listen_addr"`
}
