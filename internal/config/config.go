// Package config handles orcad configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/orcad/config.yaml, /etc/orcad/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "orcad", "config.yaml"))
	}

	paths = append(paths, "/etc/orcad/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all orcad configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Backends     BackendsConfig     `yaml:"backends"`
	Conversation ConversationConfig `yaml:"conversation"`
	PersonaFile  string             `yaml:"persona_file"`
	LogLevel     string             `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// BackendsConfig defines the two Ollama backends.
type BackendsConfig struct {
	Fast BackendConfig `yaml:"fast"` // small, low-latency model
	Deep BackendConfig `yaml:"deep"` // larger reasoning model
}

// BackendConfig defines a single Ollama endpoint and its default model.
type BackendConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// ConversationConfig defines session bookkeeping limits.
type ConversationConfig struct {
	// MaxHistory caps the number of steps retained per conversation.
	// The first step (the persona anchor) always survives pruning.
	MaxHistory int `yaml:"max_history"`
	// StaleAfterHours is how long a conversation may sit idle before
	// the sweeper removes it.
	StaleAfterHours int `yaml:"stale_after_hours"`
	// SweepIntervalMinutes is the cadence of the background stale
	// sweep. Negative disables the sweeper.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// StaleAfter returns the idle age threshold as a duration.
func (c ConversationConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// SweepInterval returns the sweep cadence as a duration.
func (c ConversationConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can stay out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8000
	}
	if c.Backends.Fast.URL == "" {
		c.Backends.Fast.URL = "http://localhost:11434"
	}
	if c.Backends.Fast.Model == "" {
		c.Backends.Fast.Model = "qwen3:0.6b"
	}
	if c.Backends.Deep.URL == "" {
		c.Backends.Deep.URL = "http://localhost:11435"
	}
	if c.Backends.Deep.Model == "" {
		c.Backends.Deep.Model = "qwen3:8b"
	}
	if c.Conversation.MaxHistory == 0 {
		c.Conversation.MaxHistory = 50
	}
	if c.Conversation.StaleAfterHours == 0 {
		c.Conversation.StaleAfterHours = 24
	}
	if c.Conversation.SweepIntervalMinutes == 0 {
		c.Conversation.SweepIntervalMinutes = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.Conversation.MaxHistory < 1 {
		return fmt.Errorf("conversation.max_history must be >= 1, got %d", c.Conversation.MaxHistory)
	}
	if c.Conversation.StaleAfterHours < 0 {
		return fmt.Errorf("conversation.stale_after_hours must not be negative")
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port out of range: %d", c.Listen.Port)
	}
	return nil
}
