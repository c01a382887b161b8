package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigDir is the default config directory name.
	DefaultConfigDir = ".rhbot"
	// DefaultConfigFile is the default config file name.
	DefaultConfigFile = "config.yaml"
)

// GetConfigDir returns the default config directory path (~/.rhbot).
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", DefaultConfigDir)
	}
	return filepath.Join(home, DefaultConfigDir)
}

// GetConfigPath returns the default config file path (~/.rhbot/config.yaml).
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), DefaultConfigFile)
}

// LoadConfig loads configuration from the specified path.
// If path is empty, it uses the default config path. A missing file yields
// the defaults. .env files next to the config and in the working directory
// are loaded first, then environment variables override secrets.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = GetConfigPath()
	}
	path = expandPath(path)

	loadEnvFiles(filepath.Dir(path))

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// SaveConfig saves the configuration to the specified path, as JSON when
// the extension is .json and YAML otherwise.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}
	path = expandPath(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Secrets live here: owner read/write only
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Exists checks if a config file exists at the given path.
// If path is empty, checks the default config path.
func Exists(path string) bool {
	if path == "" {
		path = GetConfigPath()
	}
	_, err := os.Stat(expandPath(path))
	return err == nil
}

// Validate reports configuration that would keep the bot from serving.
func (c *Config) Validate() error {
	var errs []error
	if !c.Channels.Discord.Enabled && !c.Channels.Telegram.Enabled {
		errs = append(errs, errors.New("no channel enabled"))
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		errs = append(errs, errors.New("discord enabled without a token"))
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram enabled without a token"))
	}
	if c.Providers.OpenRouter.APIKey == "" {
		errs = append(errs, errors.New("openrouter API key is not configured"))
	}
	if !c.HasModel(c.Bot.Model) {
		errs = append(errs, fmt.Errorf("default model %q has no token profile", c.Bot.Model))
	}
	switch c.Storage.Backend {
	case "", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isJSON(path) {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// loadEnvFiles loads .env files; existing variables are not overwritten.
func loadEnvFiles(configDir string) {
	for _, f := range []string{".env", filepath.Join(configDir, ".env")} {
		_ = godotenv.Load(f)
	}
}

// applyEnv overrides config values from environment variables.
func applyEnv(cfg *Config) {
	setString(&cfg.Channels.Discord.Token, "RHBOT_DISCORD_TOKEN", "DISCORD_TOKEN")
	setString(&cfg.Channels.Telegram.Token, "RHBOT_TELEGRAM_TOKEN", "TELEGRAM_TOKEN")
	setString(&cfg.Providers.OpenRouter.APIKey, "RHBOT_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	setString(&cfg.Providers.Anthropic.APIKey, "RHBOT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	setString(&cfg.Bot.DataDir, "RHBOT_DATA_DIR")
	setString(&cfg.Bot.Model, "RHBOT_MODEL")
	setString(&cfg.Logging.Level, "RHBOT_LOG_LEVEL")
	setString(&cfg.Storage.Backend, "RHBOT_STORAGE")
}

// setString assigns the first non-empty variable among keys.
func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}
