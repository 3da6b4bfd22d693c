// Package store provides the persisted mutable state of an agent: the
// settings file (feature toggles, thresholds, whitelist, trusted users) and
// the named-location store.
//
// Both stores follow write-through semantics: every mutation is persisted
// before the mutating call returns. Mutation is serialized through the
// command pipeline, but the stores carry their own locks so that background
// behaviors can read them concurrently.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Settings defaults.
const (
	DefaultFleeHealthThreshold = 8
)

// settingsFile is the on-disk JSON shape of the settings store.
type settingsFile struct {
	AutoEat             bool     `json:"autoEat"`
	AutoDefend          bool     `json:"autoDefend"`
	AutoSleep           bool     `json:"autoSleep"`
	AutoFlee            bool     `json:"autoFlee"`
	FleeHealthThreshold int      `json:"fleeHealthThreshold"`
	WhitelistedPlayers  []string `json:"whitelistedPlayers"`
	TrustedUsers        []string `json:"trustedUsers"`
}

// Settings is the persisted mutable configuration read by all behaviors and
// written only by admin commands. All methods are safe for concurrent use.
type Settings struct {
	mu   sync.RWMutex
	path string

	autoEat       bool
	autoDefend    bool
	autoSleep     bool
	autoFlee      bool
	fleeThreshold int
	whitelist     map[string]bool
	trusted       map[string]bool
}

// LoadSettings reads the settings file at path, creating it with defaults
// when absent. The parent directory is created as needed.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{
		path:          path,
		autoEat:       true,
		autoDefend:    true,
		autoFlee:      true,
		fleeThreshold: DefaultFleeHealthThreshold,
		whitelist:     make(map[string]bool),
		trusted:       make(map[string]bool),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("store: read settings %q: %w", path, err)
	}

	var f settingsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("store: parse settings %q: %w", path, err)
	}
	s.autoEat = f.AutoEat
	s.autoDefend = f.AutoDefend
	s.autoSleep = f.AutoSleep
	s.autoFlee = f.AutoFlee
	if f.FleeHealthThreshold >= 1 && f.FleeHealthThreshold <= 20 {
		s.fleeThreshold = f.FleeHealthThreshold
	}
	for _, p := range f.WhitelistedPlayers {
		s.whitelist[strings.ToLower(p)] = true
	}
	for _, p := range f.TrustedUsers {
		s.trusted[strings.ToLower(p)] = true
	}
	return s, nil
}

// persistLocked writes the current state to disk. Callers need not hold the
// lock for reads of immutable fields; mutators call it with mu held.
func (s *Settings) persistLocked() error {
	f := settingsFile{
		AutoEat:             s.autoEat,
		AutoDefend:          s.autoDefend,
		AutoSleep:           s.autoSleep,
		AutoFlee:            s.autoFlee,
		FleeHealthThreshold: s.fleeThreshold,
		WhitelistedPlayers:  sortedKeys(s.whitelist),
		TrustedUsers:        sortedKeys(s.trusted),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create settings dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("store: write settings %q: %w", s.path, err)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AutoEat reports whether opportunistic eating is enabled.
func (s *Settings) AutoEat() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoEat
}

// AutoDefend reports whether attack retaliation is enabled.
func (s *Settings) AutoDefend() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoDefend
}

// AutoSleep reports whether night-time sleeping is enabled.
func (s *Settings) AutoSleep() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoSleep
}

// AutoFlee reports whether low-health fleeing is enabled.
func (s *Settings) AutoFlee() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoFlee
}

// FleeHealthThreshold returns the health level below which the agent flees.
func (s *Settings) FleeHealthThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fleeThreshold
}

// SetToggle flips the named feature toggle and persists. Recognised names
// are "autoeat", "autodefend", "autosleep", and "autoflee".
func (s *Settings) SetToggle(name string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToLower(name) {
	case "autoeat":
		s.autoEat = on
	case "autodefend":
		s.autoDefend = on
	case "autosleep":
		s.autoSleep = on
	case "autoflee":
		s.autoFlee = on
	default:
		return fmt.Errorf("store: unknown setting %q", name)
	}
	return s.persistLocked()
}

// SetFleeHealthThreshold updates the flee threshold and persists.
// Values outside 1..20 are rejected.
func (s *Settings) SetFleeHealthThreshold(v int) error {
	if v < 1 || v > 20 {
		return fmt.Errorf("store: flee health threshold %d out of range 1..20", v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fleeThreshold = v
	return s.persistLocked()
}

// IsWhitelisted reports whether name is protected from attacks.
// The check is case-insensitive.
func (s *Settings) IsWhitelisted(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.whitelist[strings.ToLower(name)]
}

// Whitelist returns the whitelisted player names, sorted.
func (s *Settings) Whitelist() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.whitelist)
}

// AddWhitelist adds name to the whitelist and persists.
func (s *Settings) AddWhitelist(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist[strings.ToLower(name)] = true
	return s.persistLocked()
}

// RemoveWhitelist removes name from the whitelist and persists.
// Removing an absent name is a no-op.
func (s *Settings) RemoveWhitelist(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.whitelist, strings.ToLower(name))
	return s.persistLocked()
}

// IsTrusted reports whether name may issue trusted-tier commands.
// The check is case-insensitive.
func (s *Settings) IsTrusted(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trusted[strings.ToLower(name)]
}

// AddTrusted adds name to the trusted-user set and persists.
func (s *Settings) AddTrusted(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted[strings.ToLower(name)] = true
	return s.persistLocked()
}
