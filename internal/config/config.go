package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/xhj721521/teamchat/internal/chat"
)

// Config represents the global ~/.teamchat/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	// SocketPath overrides the session's default daemon socket location.
	SocketPath string     `toml:"socket_path"`
	User       UserConfig `toml:"user"`
	Chat       ChatConfig `toml:"chat"`
	Mock       MockConfig `toml:"mock"`
	Teams      []string   `toml:"teams"`
}

// UserConfig identifies the local player in the conversation.
type UserConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	Role string `toml:"role"`
}

// ChatConfig holds page sizes for history loading.
type ChatConfig struct {
	BootstrapLimit int `toml:"bootstrap_limit"`
	OlderLimit     int `toml:"older_limit"`
}

// MockConfig tunes the in-memory gateway used until the real game-server
// transport ships.
type MockConfig struct {
	SeedDemo        bool `toml:"seed_demo"`
	LatencyMs       int  `toml:"latency_ms"`
	BotIntervalSecs int  `toml:"bot_interval_secs"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		User:           UserConfig{ID: "pilot-zero", Name: "Pilot Zero", Role: "leader"},
		Chat:           ChatConfig{BootstrapLimit: 24, OlderLimit: 20},
		Mock:           MockConfig{SeedDemo: true, LatencyMs: 220, BotIntervalSecs: 45},
		Teams:          []string{"alpha-squad"},
	}
}

// Author returns the configured user as a message author.
func (c *Config) Author() chat.Author {
	return chat.Author{ID: c.User.ID, Name: c.User.Name, Role: chat.Role(c.User.Role)}
}

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
