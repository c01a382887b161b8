package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/config"
)

// TelegramChannel implements the Channel interface for Telegram messaging.
type TelegramChannel struct {
	BaseChannel
	token string
	bot   *tgbotapi.BotAPI

	// commandPrefix marks messages whose author's admin status is looked up.
	commandPrefix string

	// cancel function for stopping the update loop
	cancel context.CancelFunc
}

// NewTelegramChannel creates a new Telegram channel instance.
func NewTelegramChannel(cfg config.TelegramConfig, msgBus *bus.MessageBus, logger *slog.Logger) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", msgBus, cfg.AllowFrom, logger),
		token:       cfg.Token,
	}
}

// Start begins long-polling Telegram for updates.
func (c *TelegramChannel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return fmt.Errorf("telegram channel is already running")
	}

	bot, err := tgbotapi.NewBotAPI(c.token)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	c.bot = bot
	c.logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60 // Long polling timeout
	updates := bot.GetUpdatesChan(u)

	c.subscribe(c.Send)
	c.setRunning(true)

	go c.processUpdates(ctx, updates)
	return nil
}

// processUpdates handles incoming Telegram updates.
func (c *TelegramChannel) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("telegram update processing stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			c.handleMessage(update.Message)
		}
	}
}

// handleMessage processes an individual Telegram message.
func (c *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if !c.IsAllowed(strconv.FormatInt(msg.From.ID, 10), msg.From.UserName) {
		return
	}

	var images []string
	if len(msg.Photo) > 0 {
		// Highest resolution is last
		photo := msg.Photo[len(msg.Photo)-1]
		url, err := c.bot.GetFileDirectURL(photo.FileID)
		if err != nil {
			c.logger.Warn("failed to resolve photo URL", "error", err)
		} else {
			images = append(images, url)
		}
	}

	inbound, ok := telegramInbound(msg, c.bot.Self.UserName, images)
	if !ok {
		return
	}

	if !inbound.IsDirect && c.commandPrefix != "" && strings.HasPrefix(inbound.Content, c.commandPrefix) {
		inbound.IsAdmin = c.isChatAdmin(msg.Chat.ID, msg.From.ID)
	}

	if _, err := c.bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		c.logger.Debug("typing indicator failed", "error", err)
	}
	c.publishInbound(inbound)
}

// isChatAdmin reports whether the user administers or created the chat.
func (c *TelegramChannel) isChatAdmin(chatID, userID int64) bool {
	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		c.logger.Warn("failed to look up chat member", "chat", chatID, "error", err)
		return false
	}
	return member.IsAdministrator() || member.IsCreator()
}

// telegramInbound converts a Telegram message. Private chats are direct;
// group chats use the chat id as both guild and channel.
func telegramInbound(msg *tgbotapi.Message, botName string, images []string) (bus.InboundMessage, bool) {
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if botName != "" {
		content = strings.ReplaceAll(content, "@"+botName, "")
	}
	content = strings.TrimSpace(content)
	if content == "" && len(images) == 0 {
		return bus.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if msg.From.UserName != "" {
		name = msg.From.UserName
	}

	inbound := bus.InboundMessage{
		Platform:   "telegram",
		ChannelID:  chatID,
		MessageID:  strconv.Itoa(msg.MessageID),
		AuthorID:   strconv.FormatInt(msg.From.ID, 10),
		AuthorName: name,
		Content:    content,
		Images:     images,
		IsDirect:   msg.Chat.IsPrivate(),
		Timestamp:  msg.Time(),
	}
	if !inbound.IsDirect {
		inbound.GuildID = chatID
	}
	return inbound, true
}

// Stop gracefully shuts down the Telegram channel.
func (c *TelegramChannel) Stop() error {
	if !c.IsRunning() {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	c.setRunning(false)
	c.logger.Info("telegram channel stopped")
	return nil
}

// Send delivers one segment as plain text.
func (c *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram channel is not running")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChannelID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.ChannelID, err)
	}

	out := tgbotapi.NewMessage(chatID, msg.Content)
	if msg.ReplyTo != "" {
		if replyID, err := strconv.Atoi(msg.ReplyTo); err == nil {
			out.ReplyToMessageID = replyID
		}
	}
	if _, err := c.bot.Send(out); err != nil {
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	return nil
}
