package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rhbot/rhbot/internal/config"
	"github.com/rhbot/rhbot/internal/session"
)

// Status display styles.
var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205")).
				MarginBottom(1).
				Padding(0, 1)

	statusBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Width(72)

	statusSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				MarginTop(1)

	statusLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Width(20)

	statusValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("255"))

	statusEnabledStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82")).
				Bold(true)

	statusDisabledStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	statusWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")).
				Bold(true)
)

// StatusInfo is the runtime information shown next to the configuration.
type StatusInfo struct {
	Conversations []session.Info
	LatestLog     string
}

// ShowStatus displays the current configuration status.
func ShowStatus(cfg *config.Config, info StatusInfo) {
	fmt.Println(RenderStatus(cfg, info))
}

// RenderStatus renders the status box.
func RenderStatus(cfg *config.Config, info StatusInfo) string {
	var sb strings.Builder

	sb.WriteString(statusTitleStyle.Render("RHBot Status"))
	sb.WriteString("\n\n")

	sections := []struct {
		title  string
		render func() string
	}{
		{"Bot", func() string { return renderBotStatus(cfg) }},
		{"Providers", func() string { return renderProviderStatus(cfg) }},
		{"Models", func() string { return renderModelsStatus(cfg) }},
		{"Channels", func() string { return renderChannelsStatus(cfg) }},
		{"Storage", func() string { return renderStorageStatus(cfg, info) }},
	}
	for i, s := range sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(statusSectionStyle.Render(s.title))
		sb.WriteString("\n")
		sb.WriteString(s.render())
	}

	return statusBoxStyle.Render(sb.String())
}

func renderBotStatus(cfg *config.Config) string {
	var sb strings.Builder
	sb.WriteString(renderStatusRow("Model", statusValueStyle.Render(cfg.Bot.Model)))
	sb.WriteString(renderStatusRow("Token budget", statusValueStyle.Render(fmt.Sprintf("%d", cfg.Bot.TokenBudget))))
	sb.WriteString(renderStatusRow("Max tokens", statusValueStyle.Render(fmt.Sprintf("%d", cfg.Bot.MaxTokens))))
	sb.WriteString(renderStatusRow("Temperature", statusValueStyle.Render(fmt.Sprintf("%.1f", cfg.Bot.Temperature))))
	sb.WriteString(renderStatusRow("Command prefix", statusValueStyle.Render(cfg.Bot.CommandPrefix)))
	return sb.String()
}

func renderProviderStatus(cfg *config.Config) string {
	var sb strings.Builder

	if key := cfg.Providers.OpenRouter.APIKey; key != "" {
		sb.WriteString(renderStatusRow("OpenRouter", statusEnabledStyle.Render(maskAPIKey(key))))
	} else {
		sb.WriteString(renderStatusRow("OpenRouter", statusErrorStyle.Render("no API key")))
		sb.WriteString(renderStatusRow("", statusWarningStyle.Render("Run 'rhbot setup' to configure")))
	}

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		sb.WriteString(renderStatusRow("Anthropic", statusEnabledStyle.Render(maskAPIKey(key))))
	} else {
		sb.WriteString(renderStatusRow("Anthropic", statusDisabledStyle.Render("not set (Claude counts as 0)")))
	}
	return sb.String()
}

func renderModelsStatus(cfg *config.Config) string {
	var sb strings.Builder
	for _, p := range cfg.Models {
		detail := string(p.Strategy)
		switch {
		case p.Encoding != "":
			detail += ", " + p.Encoding
		case p.RemoteModel != "":
			detail += ", " + p.RemoteModel
		}
		label := p.Model
		if len(label) > 19 {
			label = label[:16] + "..."
		}
		sb.WriteString(renderStatusRow(label, statusValueStyle.Render(detail)))
	}
	if len(cfg.Models) == 0 {
		sb.WriteString(renderStatusRow("", statusErrorStyle.Render("no models configured")))
	}
	return sb.String()
}

func renderChannelsStatus(cfg *config.Config) string {
	var sb strings.Builder
	channels := []struct {
		name    string
		enabled bool
		allow   []string
	}{
		{"Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.AllowFrom},
		{"Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.AllowFrom},
	}

	for _, ch := range channels {
		if !ch.enabled {
			sb.WriteString(renderStatusRow(ch.name, statusDisabledStyle.Render("disabled")))
			continue
		}
		sb.WriteString(renderStatusRow(ch.name, statusEnabledStyle.Render("enabled")))
		if len(ch.allow) > 0 {
			users := strings.Join(ch.allow, ", ")
			if len(users) > 30 {
				users = users[:27] + "..."
			}
			sb.WriteString(renderStatusRow("  Allowed", statusValueStyle.Render(users)))
		} else {
			sb.WriteString(renderStatusRow("  Allowed", statusWarningStyle.Render("everyone")))
		}
	}
	return sb.String()
}

func renderStorageStatus(cfg *config.Config, info StatusInfo) string {
	var sb strings.Builder
	sb.WriteString(renderStatusRow("Data dir", statusValueStyle.Render(cfg.DataPath())))
	sb.WriteString(renderStatusRow("Backend", statusValueStyle.Render(cfg.Storage.Backend)))
	if cfg.Storage.Backend == session.BackendSQLite {
		sb.WriteString(renderStatusRow("  Database", statusValueStyle.Render(cfg.SQLitePath())))
	}

	turns := 0
	for _, c := range info.Conversations {
		turns += c.TurnCount
	}
	sb.WriteString(renderStatusRow("Conversations", statusValueStyle.Render(fmt.Sprintf("%d (%d turns)", len(info.Conversations), turns))))

	if info.LatestLog != "" {
		sb.WriteString(renderStatusRow("Latest log", statusValueStyle.Render(info.LatestLog)))
	}
	return sb.String()
}

// renderStatusRow renders a label-value row.
func renderStatusRow(label, value string) string {
	if label == "" {
		return fmt.Sprintf("  %s\n", value)
	}
	return fmt.Sprintf("  %s %s\n",
		statusLabelStyle.Render(label+":"),
		value,
	)
}

// maskAPIKey masks an API key for display.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
