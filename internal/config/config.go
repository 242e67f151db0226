// Package config is the TOML-backed settings store. Integrations read
// their flags at startup; writes go back to disk and notify subscribers so
// a settings surface can react without restarting.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// DefaultDiscordAppID identifies this application to Discord.
const DefaultDiscordAppID = "1350945271827136522"

// DefaultBridgeAddr is the loopback address the page script connects to.
const DefaultBridgeAddr = "127.0.0.1:9848"

// Config is the typed view of the settings file.
type Config struct {
	// Integration flags default to enabled; nil means unset.
	EnableMpris      *bool `koanf:"enable_mpris"`
	EnableDiscordRPC *bool `koanf:"enable_discord_rpc"`
	EnableLastfm     *bool `koanf:"enable_lastfm"`

	Bridge   BridgeConfig   `koanf:"bridge"`
	Discord  DiscordConfig  `koanf:"discord"`
	Lastfm   LastfmConfig   `koanf:"lastfm"`
	Scrobble ScrobbleConfig `koanf:"scrobble"`
}

// BridgeConfig holds the page boundary listener settings.
type BridgeConfig struct {
	Listen string `koanf:"listen"`
}

// DiscordConfig holds rich presence settings.
type DiscordConfig struct {
	AppID string `koanf:"app_id"`
}

// LastfmConfig holds the API credentials.
type LastfmConfig struct {
	APIKey    string `koanf:"api_key"`
	APISecret string `koanf:"api_secret"`
}

// ScrobbleConfig holds the scrobble policy flags.
type ScrobbleConfig struct {
	ClearCandidateOnStop bool `koanf:"clear_candidate_on_stop"`
}

// MprisEnabled reports the MPRIS flag, defaulting to enabled.
func (c *Config) MprisEnabled() bool {
	return c.EnableMpris == nil || *c.EnableMpris
}

// DiscordRPCEnabled reports the rich presence flag, defaulting to enabled.
func (c *Config) DiscordRPCEnabled() bool {
	return c.EnableDiscordRPC == nil || *c.EnableDiscordRPC
}

// LastfmEnabled reports the scrobbling flag, defaulting to enabled.
func (c *Config) LastfmEnabled() bool {
	return c.EnableLastfm == nil || *c.EnableLastfm
}

// HasLastfmCredentials returns true when both API credentials are set.
func (c *Config) HasLastfmCredentials() bool {
	return c.Lastfm.APIKey != "" && c.Lastfm.APISecret != ""
}

// BridgeAddr returns the listen address with the default applied.
func (c *Config) BridgeAddr() string {
	if c.Bridge.Listen == "" {
		return DefaultBridgeAddr
	}
	return c.Bridge.Listen
}

// DiscordAppID returns the application ID with the default applied.
func (c *Config) DiscordAppID() string {
	if c.Discord.AppID == "" {
		return DefaultDiscordAppID
	}
	return c.Discord.AppID
}

// ChangeKind discriminates change events.
type ChangeKind string

const (
	ChangeSet     ChangeKind = "setKey"
	ChangeDeleted ChangeKind = "deletedKey"
)

// Change describes one mutation of the store.
type Change struct {
	Kind ChangeKind
	Key  string
}

// Store wraps the koanf tree with persistence and change notification.
type Store struct {
	path string
	log  *zap.Logger

	mu       sync.RWMutex
	k        *koanf.Koanf
	handlers []func(Change)
}

// Open loads the store from the default XDG config location, creating the
// directory on first run.
func Open(log *zap.Logger) (*Store, error) {
	path, err := xdg.ConfigFile("attacca/config.toml")
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	return OpenPath(path, log)
}

// OpenPath loads the store from an explicit file path. A missing file is
// not an error; the store starts empty.
func OpenPath(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	return &Store{path: path, log: log, k: k}, nil
}

// Config unmarshals the current tree into the typed view.
func (s *Store) Config() (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := &Config{}
	if err := s.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Get returns the raw value at key, or nil when unset.
func (s *Store) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Get(key)
}

// Set writes key, persists the file and notifies subscribers.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	if err := s.k.Set(key, value); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("setting %s: %w", key, err)
	}
	err := s.saveLocked()
	handlers := append([]func(Change){}, s.handlers...)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, fn := range handlers {
		fn(Change{Kind: ChangeSet, Key: key})
	}
	return nil
}

// Delete removes key, persists the file and notifies subscribers.
// Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	if !s.k.Exists(key) {
		s.mu.Unlock()
		return nil
	}
	s.k.Delete(key)
	err := s.saveLocked()
	handlers := append([]func(Change){}, s.handlers...)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, fn := range handlers {
		fn(Change{Kind: ChangeDeleted, Key: key})
	}
	return nil
}

// OnChange subscribes to mutations. Handlers run on the mutating
// goroutine, after the file write.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// saveLocked serializes the tree back to TOML. Caller holds s.mu.
func (s *Store) saveLocked() error {
	data, err := s.k.Marshal(toml.Parser())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
