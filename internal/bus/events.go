package bus

import "time"

// InboundMessage represents a message received from any chat platform.
type InboundMessage struct {
	Platform   string    `json:"platform"` // discord, telegram
	GuildID    string    `json:"guildId,omitempty"`
	ChannelID  string    `json:"channelId"`
	MessageID  string    `json:"messageId,omitempty"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	Images     []string  `json:"images,omitempty"` // attachment URLs
	IsDirect   bool      `json:"isDirect"`
	IsAdmin    bool      `json:"isAdmin,omitempty"` // server/chat administrator
	Roles      []string  `json:"roles,omitempty"`   // platform role ids
	Timestamp  time.Time `json:"timestamp"`
}

// ConversationKey returns the history key for the message's channel.
// Direct messages use "dm" as the guild.
func (m *InboundMessage) ConversationKey() string {
	return ConversationKey(m.Platform, m.GuildID, m.ChannelID)
}

// ConversationKey formats a history key as platform:guild:channel.
func ConversationKey(platform, guild, channel string) string {
	if guild == "" {
		guild = "dm"
	}
	return platform + ":" + guild + ":" + channel
}

// AdventureKey formats the history key of a channel's text adventure.
func AdventureKey(platform, guild, channel string) string {
	if guild == "" {
		guild = "dm"
	}
	return platform + ":" + guild + ":adventure:" + channel
}

// OutboundMessage represents one segment to be sent to a chat platform.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
	ReplyTo   string `json:"replyTo,omitempty"`
}
