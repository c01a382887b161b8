// Package tui provides interactive terminal user interface components for RHBot.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/rhbot/rhbot/internal/config"
	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/tokens"
)

// Styles for the setup wizard.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2)
)

// SetupState holds the answers collected by the setup wizard.
type SetupState struct {
	OpenRouterKey  string
	AnthropicKey   string
	Model          string
	ConfigDiscord  bool
	DiscordToken   string
	DiscordUsers   string
	ConfigTelegram bool
	TelegramToken  string
	TelegramUsers  string
	StorageBackend string
	DeveloperName  string
	Confirmed      bool
}

// RunSetup runs the interactive setup wizard, starting from base (the
// existing configuration, or defaults), and saves the result to path.
func RunSetup(base *config.Config, path string) (*config.Config, error) {
	if base == nil {
		base = config.DefaultConfig()
	}
	state := stateFromConfig(base)

	steps := []struct {
		name string
		run  func(*SetupState) error
	}{
		{"welcome", runWelcomeStep},
		{"provider", runProviderStep},
		{"model", func(s *SetupState) error { return runModelStep(s, base.Models) }},
		{"channels", runChannelsStep},
		{"storage", runStorageStep},
		{"confirmation", runConfirmationStep},
	}
	for _, step := range steps {
		if err := step.run(state); err != nil {
			return nil, fmt.Errorf("%s step failed: %w", step.name, err)
		}
	}

	if !state.Confirmed {
		return nil, fmt.Errorf("setup cancelled by user")
	}

	cfg := buildConfigFromState(base, state)
	if err := config.SaveConfig(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}

	if path == "" {
		path = config.GetConfigPath()
	}
	fmt.Println(successStyle.Render("\n✓ Configuration saved successfully!"))
	fmt.Println(subtitleStyle.Render("Config file: " + path))
	return cfg, nil
}

// stateFromConfig pre-fills the wizard with an existing configuration.
func stateFromConfig(cfg *config.Config) *SetupState {
	return &SetupState{
		OpenRouterKey:  cfg.Providers.OpenRouter.APIKey,
		AnthropicKey:   cfg.Providers.Anthropic.APIKey,
		Model:          cfg.Bot.Model,
		ConfigDiscord:  cfg.Channels.Discord.Enabled,
		DiscordToken:   cfg.Channels.Discord.Token,
		DiscordUsers:   strings.Join(cfg.Channels.Discord.AllowFrom, ", "),
		ConfigTelegram: cfg.Channels.Telegram.Enabled,
		TelegramToken:  cfg.Channels.Telegram.Token,
		TelegramUsers:  strings.Join(cfg.Channels.Telegram.AllowFrom, ", "),
		StorageBackend: cfg.Storage.Backend,
		DeveloperName:  cfg.Bot.DeveloperName,
	}
}

func runWelcomeStep(state *SetupState) error {
	welcome := boxStyle.Render(
		titleStyle.Render("Welcome to RHBot Setup") + "\n\n" +
			"This wizard configures the chat platforms, API keys\n" +
			"and storage RHBot uses. You can edit the file later at:\n" +
			subtitleStyle.Render(config.GetConfigPath()),
	)
	fmt.Println(welcome)
	fmt.Println()
	return nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func runProviderStep(state *SetupState) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("OpenRouter API key").
				Description("Used for every chat completion").
				Placeholder("sk-or-...").
				EchoMode(huh.EchoModePassword).
				Value(&state.OpenRouterKey).
				Validate(required("API key")),
			huh.NewInput().
				Title("Anthropic API key (optional)").
				Description("Only used to count tokens for Claude models").
				Placeholder("sk-ant-...").
				EchoMode(huh.EchoModePassword).
				Value(&state.AnthropicKey),
		),
	)
	return form.Run()
}

func runModelStep(state *SetupState, profiles []tokens.Profile) error {
	options := make([]huh.Option[string], 0, len(profiles))
	for _, p := range profiles {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", p.Model, p.Strategy), p.Model))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default model").
				Description("Channels can switch with the model command").
				Options(options...).
				Value(&state.Model),
			huh.NewInput().
				Title("Operator name (optional)").
				Description("Mentioned in the default system prompt").
				Value(&state.DeveloperName),
		),
	)
	return form.Run()
}

func runChannelsStep(state *SetupState) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Configure Discord?").
				Value(&state.ConfigDiscord),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord Bot Token").
				Description("From the Discord developer portal; enable the Message Content intent").
				EchoMode(huh.EchoModePassword).
				Value(&state.DiscordToken).
				Validate(required("bot token")),
			huh.NewInput().
				Title("Allowed user IDs (optional)").
				Description("Comma-separated; empty allows everyone").
				Value(&state.DiscordUsers),
		).WithHideFunc(func() bool { return !state.ConfigDiscord }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Configure Telegram?").
				Value(&state.ConfigTelegram),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram Bot Token").
				Description("Get this from @BotFather on Telegram").
				Placeholder("123456789:ABCdefGHIjklMNOpqrsTUVwxyz").
				EchoMode(huh.EchoModePassword).
				Value(&state.TelegramToken).
				Validate(required("bot token")),
			huh.NewInput().
				Title("Allowed user IDs (optional)").
				Description("Comma-separated; empty allows everyone").
				Placeholder("123456789, 987654321").
				Value(&state.TelegramUsers),
		).WithHideFunc(func() bool { return !state.ConfigTelegram }),
	)
	return form.Run()
}

func runStorageStep(state *SetupState) error {
	if state.StorageBackend == "" {
		state.StorageBackend = session.BackendFile
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Conversation history storage").
				Options(
					huh.NewOption("JSONL files (one per conversation)", session.BackendFile),
					huh.NewOption("SQLite database", session.BackendSQLite),
				).
				Value(&state.StorageBackend),
		),
	)
	return form.Run()
}

func runConfirmationStep(state *SetupState) error {
	fmt.Println(boxStyle.Render(buildSummary(state)))
	fmt.Println()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Affirmative("Yes, save").
				Negative("No, cancel").
				Value(&state.Confirmed),
		),
	)
	return form.Run()
}

// buildSummary creates a text summary of the configuration.
func buildSummary(state *SetupState) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Configuration Summary"))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "Model: %s\n", state.Model)
	fmt.Fprintf(&sb, "OpenRouter key: %s\n", maskAPIKey(state.OpenRouterKey))
	if state.AnthropicKey != "" {
		fmt.Fprintf(&sb, "Anthropic key: %s\n", maskAPIKey(state.AnthropicKey))
	}
	sb.WriteString("\nChannels:\n")
	fmt.Fprintf(&sb, "  Discord: %s\n", enabledLabel(state.ConfigDiscord))
	fmt.Fprintf(&sb, "  Telegram: %s\n", enabledLabel(state.ConfigTelegram))
	fmt.Fprintf(&sb, "\nStorage: %s\n", state.StorageBackend)

	return sb.String()
}

func enabledLabel(on bool) string {
	if on {
		return successStyle.Render("enabled")
	}
	return subtitleStyle.Render("disabled")
}

// buildConfigFromState applies the wizard's answers on top of base.
func buildConfigFromState(base *config.Config, state *SetupState) *config.Config {
	cfg := *base

	cfg.Providers.OpenRouter.APIKey = strings.TrimSpace(state.OpenRouterKey)
	cfg.Providers.Anthropic.APIKey = strings.TrimSpace(state.AnthropicKey)
	if state.Model != "" {
		cfg.Bot.Model = state.Model
	}
	cfg.Bot.DeveloperName = strings.TrimSpace(state.DeveloperName)

	cfg.Channels.Discord = config.DiscordConfig{
		Enabled:   state.ConfigDiscord,
		Token:     strings.TrimSpace(state.DiscordToken),
		AllowFrom: parseList(state.DiscordUsers),
	}
	cfg.Channels.Telegram = config.TelegramConfig{
		Enabled:   state.ConfigTelegram,
		Token:     strings.TrimSpace(state.TelegramToken),
		AllowFrom: parseList(state.TelegramUsers),
	}

	if state.StorageBackend != "" {
		cfg.Storage.Backend = state.StorageBackend
	}
	return &cfg
}

// parseList splits a comma-separated list, dropping blanks.
func parseList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
