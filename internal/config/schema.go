package config

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/rhbot/rhbot/internal/tokens"
)

// Config represents the root configuration structure for RHBot.
type Config struct {
	Bot       BotConfig        `json:"bot" yaml:"bot"`
	Channels  ChannelsConfig   `json:"channels" yaml:"channels"`
	Providers ProvidersConfig  `json:"providers" yaml:"providers"`
	Models    []tokens.Profile `json:"models" yaml:"models"`
	Storage   StorageConfig    `json:"storage" yaml:"storage"`
	Logging   LoggingConfig    `json:"logging" yaml:"logging"`
}

// BotConfig holds conversation defaults.
type BotConfig struct {
	DataDir       string  `json:"dataDir" yaml:"dataDir"`
	Model         string  `json:"model" yaml:"model"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
	MaxTokens     int     `json:"maxTokens" yaml:"maxTokens"`
	TokenBudget   int     `json:"tokenBudget" yaml:"tokenBudget"`
	CommandPrefix string  `json:"commandPrefix" yaml:"commandPrefix"`
	DeveloperID   string  `json:"developerId" yaml:"developerId"`
	DeveloperName string  `json:"developerName" yaml:"developerName"`

	// Managers may change channel settings everywhere, like DeveloperID.
	Managers []string `json:"managers,omitempty" yaml:"managers,omitempty"`
}

// ChannelsConfig holds all chat platform configurations.
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

// DiscordConfig represents Discord bot configuration.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
}

// TelegramConfig represents Telegram bot configuration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
}

// ProvidersConfig holds the completion and token-count endpoints.
type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter" yaml:"openrouter"`
	Anthropic  ProviderConfig `json:"anthropic" yaml:"anthropic"`
}

// ProviderConfig represents an API endpoint and its key.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
}

// StorageConfig selects the history backend.
type StorageConfig struct {
	Backend    string `json:"backend" yaml:"backend"` // "file" or "sqlite"
	SQLitePath string `json:"sqlitePath,omitempty" yaml:"sqlitePath,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Dir   string `json:"dir" yaml:"dir"`
	Level string `json:"level" yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns a new Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			DataDir:       "~/.rhbot/data",
			Model:         "openai/gpt-4o",
			Temperature:   0.7,
			MaxTokens:     1024,
			TokenBudget:   16000,
			CommandPrefix: "!",
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				AllowFrom: []string{},
			},
			Telegram: TelegramConfig{
				AllowFrom: []string{},
			},
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{
				APIBase: "https://openrouter.ai/api/v1",
			},
			Anthropic: ProviderConfig{
				APIBase: tokens.DefaultRemoteBaseURL,
			},
		},
		Models: tokens.DefaultProfiles(),
		Storage: StorageConfig{
			Backend: "file",
		},
		Logging: LoggingConfig{
			Dir:   "~/.rhbot/logs",
			Level: "info",
		},
	}
}

// DataPath returns the absolute data directory, expanding ~.
func (c *Config) DataPath() string {
	dir := c.Bot.DataDir
	if dir == "" {
		dir = "~/.rhbot/data"
	}
	return expandPath(dir)
}

// LogPath returns the absolute log directory, expanding ~.
func (c *Config) LogPath() string {
	dir := c.Logging.Dir
	if dir == "" {
		dir = "~/.rhbot/logs"
	}
	return expandPath(dir)
}

// SQLitePath returns the database path for the sqlite backend.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath == "" {
		return filepath.Join(c.DataPath(), "history.db")
	}
	return expandPath(c.Storage.SQLitePath)
}

// HasModel reports whether a token profile exists for model.
func (c *Config) HasModel(model string) bool {
	return slices.Contains(c.ModelIDs(), model)
}

// ModelIDs returns the ids of the configured model profiles, sorted and
// without duplicates. These are the models the bot can count and serve.
func (c *Config) ModelIDs() []string {
	ids := make([]string, 0, len(c.Models))
	for _, p := range c.Models {
		ids = append(ids, p.Model)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// expandPath expands ~ to the user's home directory and resolves the path.
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if len(path) == 1 {
			return home
		}
		// Handle ~/path and ~path cases
		if path[1] == '/' || path[1] == filepath.Separator {
			path = filepath.Join(home, path[2:])
		} else {
			path = filepath.Join(home, path[1:])
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
