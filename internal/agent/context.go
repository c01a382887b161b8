package agent

import (
	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/config"
	"github.com/rhbot/rhbot/internal/prompt"
	"github.com/rhbot/rhbot/internal/providers"
	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/state"
)

// conversation is everything resolved about the channel a message came from.
type conversation struct {
	guild     string
	key       string // history key
	settings  state.ChannelSettings
	adventure state.Adventure
}

// active reports whether the bot answers ordinary messages here.
func (c conversation) active(direct bool) bool {
	return direct || c.settings.Active || c.adventure.Active
}

// ContextBuilder resolves per-channel state into the system prompt and
// completion parameters for a message.
type ContextBuilder struct {
	config  *config.Config
	state   *state.Store
	prompts *prompt.Builder
}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder(cfg *config.Config, st *state.Store, prompts *prompt.Builder) *ContextBuilder {
	return &ContextBuilder{config: cfg, state: st, prompts: prompts}
}

// resolve loads the channel's settings and picks the history key. A running
// text adventure has its own history, separate from the channel's.
func (c *ContextBuilder) resolve(msg bus.InboundMessage) conversation {
	guild := msg.GuildID
	if guild == "" {
		guild = state.DirectGuild
	}

	conv := conversation{
		guild:     guild,
		key:       msg.ConversationKey(),
		settings:  c.state.Channel(guild, msg.ChannelID),
		adventure: c.state.Adventure(guild, msg.ChannelID),
	}
	if conv.adventure.Active {
		conv.key = bus.AdventureKey(msg.Platform, msg.GuildID, msg.ChannelID)
	}
	return conv
}

// SystemPrompt returns the narrator prompt during an adventure, the
// character prompt when a persona is set, and the default prompt otherwise.
// A persona that no longer exists falls back to the default prompt.
func (c *ContextBuilder) SystemPrompt(conv conversation, msg bus.InboundMessage) string {
	if conv.adventure.Active {
		players := make([]prompt.Player, 0, len(conv.adventure.Players))
		for _, p := range conv.adventure.PlayerList() {
			players = append(players, prompt.Player{Name: p.Name, Description: p.Description})
		}
		return c.prompts.Narrator(players)
	}

	if conv.settings.Character != "" {
		if ch, err := c.state.Character(conv.guild, conv.settings.Character); err == nil {
			user := c.prompts.DisplayName(msg.AuthorID, msg.AuthorName)
			return c.prompts.Character(prompt.Persona{Name: ch.Name, Description: ch.Description}, user)
		}
	}
	return c.prompts.Default()
}

// Model returns the channel's model override or the configured default.
func (c *ContextBuilder) Model(conv conversation) string {
	if conv.settings.Model != "" {
		return conv.settings.Model
	}
	return c.config.Bot.Model
}

// Temperature returns the channel's temperature override or the default.
func (c *ContextBuilder) Temperature(conv conversation) float64 {
	if conv.settings.Temperature != nil {
		return *conv.settings.Temperature
	}
	return c.config.Bot.Temperature
}

// BuildMessages converts a window into completion messages. images are
// attached to the last user message.
func BuildMessages(window []session.Turn, images []string) []providers.ChatMessage {
	out := make([]providers.ChatMessage, len(window))
	last := -1
	for i, t := range window {
		out[i] = providers.ChatMessage{Role: t.Role, Content: t.Content, Name: t.Name}
		if t.Role == session.RoleUser {
			last = i
		}
	}
	if last >= 0 && len(images) > 0 {
		out[last].Images = images
	}
	return out
}
