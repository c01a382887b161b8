package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/config"
)

// DiscordChannel implements the Channel interface for Discord.
type DiscordChannel struct {
	BaseChannel
	token   string
	session *discordgo.Session
}

// NewDiscordChannel creates a new Discord channel instance.
func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus, logger *slog.Logger) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus, cfg.AllowFrom, logger),
		token:       cfg.Token,
	}
}

// Start opens the Discord gateway connection.
func (c *DiscordChannel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return fmt.Errorf("discord channel is already running")
	}

	session, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(c.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord gateway: %w", err)
	}
	c.session = session

	user := session.State.User
	c.logger.Info("discord bot connected", "bot", user.Username, "id", user.ID)

	c.subscribe(c.Send)
	c.setRunning(true)

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}

// Stop closes the gateway connection.
func (c *DiscordChannel) Stop() error {
	if !c.IsRunning() {
		return nil
	}
	c.setRunning(false)
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			return fmt.Errorf("failed to close Discord session: %w", err)
		}
	}
	c.logger.Info("discord channel stopped")
	return nil
}

// Send delivers one segment, replying to the triggering message when set.
func (c *DiscordChannel) Send(msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord channel is not running")
	}

	send := &discordgo.MessageSend{
		Content:         msg.Content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}},
	}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.ChannelID}
	}
	if _, err := c.session.ChannelMessageSendComplex(msg.ChannelID, send); err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}
	return nil
}

func (c *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	inbound, ok := discordInbound(m, s.State.User.ID)
	if !ok {
		return
	}
	if !c.IsAllowed(m.Author.ID, m.Author.Username) {
		return
	}

	if !inbound.IsDirect {
		inbound.IsAdmin = isDiscordAdmin(s.State, m.Author.ID, m.ChannelID)
	}

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		c.logger.Debug("typing indicator failed", "error", err)
	}
	c.publishInbound(inbound)
}

// isDiscordAdmin reports whether the user has the administrator permission
// in the channel, according to the gateway state cache.
func isDiscordAdmin(st *discordgo.State, userID, channelID string) bool {
	if st == nil {
		return false
	}
	perms, err := st.UserChannelPermissions(userID, channelID)
	if err != nil {
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// discordInbound converts a gateway message. Messages from bots (including
// this one) and messages with neither text nor images are skipped.
func discordInbound(m *discordgo.MessageCreate, botID string) (bus.InboundMessage, bool) {
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return bus.InboundMessage{}, false
	}

	var images []string
	for _, att := range m.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") {
			images = append(images, att.URL)
		}
	}

	content := strings.TrimSpace(stripMention(m.Content, botID))
	if content == "" && len(images) == 0 {
		return bus.InboundMessage{}, false
	}

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}

	var roles []string
	if m.Member != nil {
		roles = m.Member.Roles
	}

	return bus.InboundMessage{
		Platform:   "discord",
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		MessageID:  m.ID,
		AuthorID:   m.Author.ID,
		AuthorName: name,
		Content:    content,
		Images:     images,
		IsDirect:   m.GuildID == "",
		Roles:      roles,
		Timestamp:  m.Timestamp,
	}, true
}

// stripMention removes mentions of the bot from text.
func stripMention(text, botID string) string {
	if botID == "" {
		return text
	}
	text = strings.ReplaceAll(text, "<@"+botID+">", "")
	return strings.ReplaceAll(text, "<@!"+botID+">", "")
}
