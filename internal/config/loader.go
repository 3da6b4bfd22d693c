package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] when the corresponding field is zero.
const (
	DefaultPort           = 25565
	DefaultReconnectDelay = 5 * time.Second
	DefaultProvider       = "ollama"
	DefaultTimeout        = 30 * time.Second
	DefaultSettingsPath   = "saves/settings.json"
	DefaultLocationsPath  = "saves/locations.json"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for zero-valued fields. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Host == "" {
		errs = append(errs, errors.New("server.host must be set"))
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ReconnectDelay <= 0 {
		cfg.Server.ReconnectDelay = DefaultReconnectDelay
	}

	if len(cfg.Agents) == 0 {
		errs = append(errs, errors.New("at least one agent must be configured"))
	}
	seen := make(map[string]int, len(cfg.Agents))
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		prefix := fmt.Sprintf("agents[%d]", i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name must be set", prefix))
			continue
		}
		if prev, dup := seen[a.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates agents[%d]", prefix, a.Name, prev))
		}
		seen[a.Name] = i
		if a.TriggerWord == "" {
			a.TriggerWord = a.Name
		}
	}

	if cfg.Translate.Provider == "" {
		cfg.Translate.Provider = DefaultProvider
	}
	if cfg.Translate.Model == "" {
		errs = append(errs, errors.New("translate.model must be set"))
	}
	if cfg.Translate.Timeout <= 0 {
		cfg.Translate.Timeout = DefaultTimeout
	}

	if cfg.Storage.SettingsPath == "" {
		cfg.Storage.SettingsPath = DefaultSettingsPath
	}
	if cfg.Storage.LocationsPath == "" {
		cfg.Storage.LocationsPath = DefaultLocationsPath
	}

	if cfg.Discord.Token != "" && cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id must be set when discord.token is set"))
	}

	return errors.Join(errs...)
}
