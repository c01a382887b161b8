package channels

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/config"
)

func TestIsAllowed(t *testing.T) {
	open := NewBaseChannel("discord", nil, nil, nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allow list should admit everyone")
	}

	closed := NewBaseChannel("discord", nil, []string{"123", "alice"}, nil)
	tests := []struct {
		ids  []string
		want bool
	}{
		{[]string{"123"}, true},
		{[]string{"999", "alice"}, true},
		{[]string{"999", "bob"}, false},
		{[]string{""}, false},
	}
	for _, tt := range tests {
		if got := closed.IsAllowed(tt.ids...); got != tt.want {
			t.Errorf("IsAllowed(%v) = %v, want %v", tt.ids, got, tt.want)
		}
	}
}

func TestPublishInboundStampsPlatform(t *testing.T) {
	b := bus.NewMessageBus(4, nil)
	defer b.Close()

	c := NewBaseChannel("telegram", b, nil, nil)
	c.publishInbound(bus.InboundMessage{ChannelID: "42", Content: "hi"})

	msg, err := b.ConsumeInboundWithTimeout(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ConsumeInboundWithTimeout() error: %v", err)
	}
	if msg.Platform != "telegram" {
		t.Errorf("Platform = %q, want %q", msg.Platform, "telegram")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestDiscordInbound(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "<@bot> hello there",
		Author:    &discordgo.User{ID: "u1", Username: "alice", GlobalName: "Alice"},
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn/a.png", ContentType: "image/png"},
			{URL: "https://cdn/b.txt", ContentType: "text/plain"},
		},
	}}

	in, ok := discordInbound(m, "bot")
	if !ok {
		t.Fatal("discordInbound() skipped a user message")
	}
	if in.Content != "hello there" {
		t.Errorf("Content = %q, want %q", in.Content, "hello there")
	}
	if in.AuthorName != "Alice" {
		t.Errorf("AuthorName = %q, want %q", in.AuthorName, "Alice")
	}
	if len(in.Images) != 1 || in.Images[0] != "https://cdn/a.png" {
		t.Errorf("Images = %v", in.Images)
	}
	if in.IsDirect {
		t.Error("guild message should not be direct")
	}
	if in.ConversationKey() != "discord:g1:c1" {
		t.Errorf("ConversationKey() = %q", in.ConversationKey())
	}
}

func TestDiscordInboundRoles(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "!reset",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
		Member:    &discordgo.Member{Roles: []string{"r1", "r2"}},
	}}
	in, ok := discordInbound(m, "bot")
	if !ok {
		t.Fatal("discordInbound() skipped a member message")
	}
	if len(in.Roles) != 2 || in.Roles[1] != "r2" {
		t.Errorf("Roles = %v, want [r1 r2]", in.Roles)
	}
	if in.IsAdmin {
		t.Error("IsAdmin should only be set by the channel")
	}
}

func TestIsDiscordAdmin(t *testing.T) {
	st := discordgo.NewState()
	err := st.GuildAdd(&discordgo.Guild{
		ID:      "g1",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1"},
			{ID: "admins", Permissions: discordgo.PermissionAdministrator},
		},
		Channels: []*discordgo.Channel{{ID: "c1", GuildID: "g1"}},
	})
	if err != nil {
		t.Fatalf("GuildAdd() error: %v", err)
	}
	st.MemberAdd(&discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "boss"}, Roles: []string{"admins"}})
	st.MemberAdd(&discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "pleb"}})

	tests := []struct {
		user string
		want bool
	}{
		{"boss", true},
		{"pleb", false},
		{"stranger", false},
	}
	for _, tt := range tests {
		if got := isDiscordAdmin(st, tt.user, "c1"); got != tt.want {
			t.Errorf("isDiscordAdmin(%q) = %v, want %v", tt.user, got, tt.want)
		}
	}
	if isDiscordAdmin(nil, "boss", "c1") {
		t.Error("isDiscordAdmin(nil state) = true, want false")
	}
}

func TestDiscordInboundSkips(t *testing.T) {
	tests := []struct {
		name   string
		author *discordgo.User
		text   string
	}{
		{"self", &discordgo.User{ID: "bot"}, "hi"},
		{"other bot", &discordgo.User{ID: "b2", Bot: true}, "hi"},
		{"mention only", &discordgo.User{ID: "u1"}, "<@!bot>"},
		{"no author", nil, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &discordgo.MessageCreate{Message: &discordgo.Message{Author: tt.author, Content: tt.text}}
			if _, ok := discordInbound(m, "bot"); ok {
				t.Error("discordInbound() should skip")
			}
		})
	}
}

func TestDiscordInboundDirect(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "dm1",
		Content:   "hey",
		Author:    &discordgo.User{ID: "u1", Username: "bob"},
	}}
	in, ok := discordInbound(m, "bot")
	if !ok {
		t.Fatal("discordInbound() skipped a direct message")
	}
	if !in.IsDirect || in.AuthorName != "bob" {
		t.Errorf("inbound = %+v", in)
	}
	if in.ConversationKey() != "discord:dm:dm1" {
		t.Errorf("ConversationKey() = %q", in.ConversationKey())
	}
}

func TestTelegramInbound(t *testing.T) {
	group := &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 5, FirstName: "Carol", UserName: "carol"},
		Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup"},
		Text:      "@rhbot roll a die",
		Date:      1700000000,
	}
	in, ok := telegramInbound(group, "rhbot", nil)
	if !ok {
		t.Fatal("telegramInbound() skipped a group message")
	}
	if in.Content != "roll a die" || in.MessageID != "7" || in.AuthorName != "carol" {
		t.Errorf("inbound = %+v", in)
	}
	if in.IsDirect || in.GuildID != "-100" {
		t.Errorf("group: IsDirect = %v, GuildID = %q", in.IsDirect, in.GuildID)
	}

	private := &tgbotapi.Message{
		From:    &tgbotapi.User{ID: 5, FirstName: "Carol", LastName: "King"},
		Chat:    &tgbotapi.Chat{ID: 5, Type: "private"},
		Caption: "look",
	}
	in, ok = telegramInbound(private, "rhbot", []string{"https://t/photo.jpg"})
	if !ok {
		t.Fatal("telegramInbound() skipped a private message")
	}
	if !in.IsDirect || in.GuildID != "" || in.AuthorName != "Carol King" || in.Content != "look" {
		t.Errorf("private inbound = %+v", in)
	}

	empty := &tgbotapi.Message{From: &tgbotapi.User{ID: 5}, Chat: &tgbotapi.Chat{ID: 5, Type: "private"}}
	if _, ok := telegramInbound(empty, "rhbot", nil); ok {
		t.Error("empty message should be skipped")
	}
}

func TestStripMention(t *testing.T) {
	if got := stripMention("<@42> hi <@!42>", "42"); got != " hi " {
		t.Errorf("stripMention() = %q, want %q", got, " hi ")
	}
	if got := stripMention("<@42> hi", ""); got != "<@42> hi" {
		t.Errorf("stripMention() = %q", got)
	}
}

type stubChannel struct {
	name    string
	running bool
}

func (s *stubChannel) Name() string                       { return s.name }
func (s *stubChannel) Start(ctx context.Context) error    { s.running = true; return nil }
func (s *stubChannel) Stop() error                        { s.running = false; return nil }
func (s *stubChannel) Send(msg bus.OutboundMessage) error { return nil }
func (s *stubChannel) IsRunning() bool                    { return s.running }

func TestManagerRegisterAndLifecycle(t *testing.T) {
	m := NewManager(config.DefaultConfig(), bus.NewMessageBus(1, nil), nil)

	if err := m.RegisterChannel(&stubChannel{name: "telegram"}); err != nil {
		t.Fatalf("RegisterChannel() error: %v", err)
	}
	if err := m.RegisterChannel(&stubChannel{name: "discord"}); err != nil {
		t.Fatalf("RegisterChannel() error: %v", err)
	}
	if err := m.RegisterChannel(&stubChannel{name: "discord"}); err == nil {
		t.Error("duplicate RegisterChannel() should fail")
	}
	if err := m.RegisterChannel(nil); err == nil {
		t.Error("RegisterChannel(nil) should fail")
	}

	if got := m.ListChannels(); len(got) != 2 || got[0] != "discord" || got[1] != "telegram" {
		t.Errorf("ListChannels() = %v", got)
	}

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}
	if got := m.RunningChannels(); len(got) != 2 {
		t.Errorf("RunningChannels() = %v, want 2", got)
	}
	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll() error: %v", err)
	}
	if got := m.RunningChannels(); len(got) != 0 {
		t.Errorf("RunningChannels() = %v, want none", got)
	}
}

func TestManagerInitializeRequiresToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels.Discord.Enabled = true

	m := NewManager(cfg, bus.NewMessageBus(1, nil), nil)
	if err := m.Initialize(); err == nil {
		t.Error("Initialize() should fail without a discord token")
	}
}

func TestManagerInitializeEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels.Discord = config.DiscordConfig{Enabled: true, Token: "x"}
	cfg.Channels.Telegram = config.TelegramConfig{Enabled: true, Token: "y"}

	m := NewManager(cfg, bus.NewMessageBus(1, nil), nil)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if m.GetChannel("discord") == nil || m.GetChannel("telegram") == nil {
		t.Fatalf("ListChannels() = %v", m.ListChannels())
	}
	if tg := m.GetChannel("telegram").(*TelegramChannel); tg.commandPrefix != cfg.Bot.CommandPrefix {
		t.Errorf("telegram commandPrefix = %q, want %q", tg.commandPrefix, cfg.Bot.CommandPrefix)
	}
}
