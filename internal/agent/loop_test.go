package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/config"
	"github.com/rhbot/rhbot/internal/providers"
	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/state"
	"github.com/rhbot/rhbot/internal/tokens"
)

// fakeProvider records requests and answers with a fixed reply or error.
type fakeProvider struct {
	mu       sync.Mutex
	requests []providers.ChatRequest
	reply    string
	err      error
}

func (p *fakeProvider) Name() string         { return "fake" }
func (p *fakeProvider) DefaultModel() string { return "openai/gpt-4o" }

func (p *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &providers.ChatResponse{Content: p.reply}, nil
}

func (p *fakeProvider) last(t *testing.T) providers.ChatRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		t.Fatal("provider was not called")
	}
	return p.requests[len(p.requests)-1]
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// perMessageCounter charges a flat cost per message.
type perMessageCounter struct {
	cost int
	err  error
}

func (c perMessageCounter) Count(ctx context.Context, msgs []session.Turn, model string) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return len(msgs) * c.cost, nil
}

type testEnv struct {
	loop     *Loop
	bus      *bus.MessageBus
	provider *fakeProvider
	history  session.Store
	state    *state.Store
	cfg      *config.Config
}

func newTestEnv(t *testing.T, counter perMessageCounter) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Bot.DataDir = dir
	cfg.Bot.TokenBudget = 1000
	cfg.Bot.Managers = []string{"u1"}

	history, err := session.NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	st, err := state.NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	b := bus.NewMessageBus(64, nil)
	t.Cleanup(b.Close)
	p := &fakeProvider{reply: "hello!"}

	loop, err := NewLoop(LoopConfig{
		Bus:      b,
		Provider: p,
		Config:   cfg,
		History:  history,
		State:    st,
		Counter:  counter,
	})
	if err != nil {
		t.Fatalf("NewLoop() error: %v", err)
	}
	return &testEnv{loop: loop, bus: b, provider: p, history: history, state: st, cfg: cfg}
}

func guildMessage(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Platform:   "discord",
		GuildID:    "g1",
		ChannelID:  "c1",
		MessageID:  "m1",
		AuthorID:   "u1",
		AuthorName: "Alice Smith",
		Content:    content,
	}
}

func (e *testEnv) process(t *testing.T, msg bus.InboundMessage) string {
	t.Helper()
	reply, err := e.loop.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("ProcessMessage(%q) error: %v", msg.Content, err)
	}
	return reply
}

func TestNewLoopRequiresDependencies(t *testing.T) {
	if _, err := NewLoop(LoopConfig{}); err == nil {
		t.Error("NewLoop() with empty config should fail")
	}
}

func TestInactiveChannelIgnored(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})

	if reply := e.process(t, guildMessage("hi")); reply != "" {
		t.Errorf("reply = %q, want empty", reply)
	}
	if e.provider.calls() != 0 {
		t.Errorf("provider calls = %d, want 0", e.provider.calls())
	}
}

func TestActivateAndConverse(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})

	if reply := e.process(t, guildMessage("!activate")); !strings.Contains(reply, "active") {
		t.Errorf("activate reply = %q", reply)
	}
	if reply := e.process(t, guildMessage("hi there")); reply != "hello!" {
		t.Errorf("reply = %q, want %q", reply, "hello!")
	}

	req := e.provider.last(t)
	if req.Model != "openai/gpt-4o" {
		t.Errorf("Model = %q", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != session.RoleSystem {
		t.Errorf("Messages[0].Role = %q, want system", req.Messages[0].Role)
	}
	if req.Messages[1].Name != "Alice_Smith" || req.Messages[1].Content != "hi there" {
		t.Errorf("Messages[1] = %+v", req.Messages[1])
	}

	turns, _ := e.history.Load("discord:g1:c1")
	if len(turns) != 2 || turns[1].Role != session.RoleAssistant || turns[1].Content != "hello!" {
		t.Errorf("history = %+v", turns)
	}
}

func TestDirectMessagesAlwaysActive(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})

	msg := guildMessage("hey")
	msg.GuildID = ""
	msg.IsDirect = true
	if reply := e.process(t, msg); reply != "hello!" {
		t.Errorf("reply = %q, want %q", reply, "hello!")
	}
	turns, _ := e.history.Load("discord:dm:c1")
	if len(turns) != 2 {
		t.Errorf("len(history) = %d, want 2", len(turns))
	}
}

func TestHistoryTrimmedToBudget(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 100})
	e.cfg.Bot.TokenBudget = 300
	e.process(t, guildMessage("!activate"))

	for i := range 6 {
		e.history.Append("discord:g1:c1", session.NewTurn(session.RoleUser, "bob", fmt.Sprintf("old %d", i)))
	}

	e.process(t, guildMessage("newest"))

	// system + 2 history turns fit 300
	req := e.provider.last(t)
	if len(req.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(req.Messages))
	}
	if req.Messages[2].Content != "newest" {
		t.Errorf("last message = %q, want %q", req.Messages[2].Content, "newest")
	}

	turns, _ := e.history.Load("discord:g1:c1")
	if len(turns) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(turns))
	}
	if turns[0].Content != "old 5" || turns[1].Content != "newest" || turns[2].Content != "hello!" {
		t.Errorf("history = %+v", turns)
	}
}

func TestCountUnavailableKeepsHistory(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{err: tokens.ErrCountUnavailable})
	e.process(t, guildMessage("!activate"))
	for i := range 20 {
		e.history.Append("discord:g1:c1", session.NewTurn(session.RoleUser, "", fmt.Sprintf("m%d", i)))
	}

	e.process(t, guildMessage("again"))

	if got := len(e.provider.last(t).Messages); got != 22 {
		t.Errorf("len(Messages) = %d, want 22", got)
	}
}

func TestCompletionFailureKeepsUserTurn(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 100})
	e.cfg.Bot.TokenBudget = 200
	e.process(t, guildMessage("!activate"))
	for i := range 4 {
		e.history.Append("discord:g1:c1", session.NewTurn(session.RoleUser, "", fmt.Sprintf("m%d", i)))
	}
	e.provider.err = fmt.Errorf("%w: boom", providers.ErrCompletionFailed)

	_, err := e.loop.ProcessMessage(context.Background(), guildMessage("question"))
	if err == nil {
		t.Fatal("ProcessMessage() should fail")
	}

	// Untrimmed history plus the user turn
	turns, _ := e.history.Load("discord:g1:c1")
	if len(turns) != 5 || turns[4].Content != "question" {
		t.Errorf("history = %+v", turns)
	}
}

func TestDeactivateClearsHistory(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))
	e.process(t, guildMessage("hi"))

	e.process(t, guildMessage("!deactivate"))

	turns, _ := e.history.Load("discord:g1:c1")
	if len(turns) != 0 {
		t.Errorf("len(history) = %d, want 0", len(turns))
	}
	if e.state.Channel("g1", "c1").Active {
		t.Error("channel should be inactive")
	}
}

func TestResetClearsHistory(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))
	e.process(t, guildMessage("hi"))

	e.process(t, guildMessage("!reset"))

	turns, _ := e.history.Load("discord:g1:c1")
	if len(turns) != 0 {
		t.Errorf("len(history) = %d, want 0", len(turns))
	}
	if !e.state.Channel("g1", "c1").Active {
		t.Error("reset should not deactivate the channel")
	}
}

func TestModelCommand(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))

	if reply := e.process(t, guildMessage("!model nope/model")); !strings.Contains(reply, "Unknown model") {
		t.Errorf("reply = %q", reply)
	}
	e.process(t, guildMessage("!model microsoft/wizardlm-2-8x22b"))
	e.process(t, guildMessage("hi"))

	if got := e.provider.last(t).Model; got != "microsoft/wizardlm-2-8x22b" {
		t.Errorf("Model = %q", got)
	}
}

func TestTemperatureCommand(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))

	if reply := e.process(t, guildMessage("!temperature 9")); !strings.Contains(reply, "between 0 and 2") {
		t.Errorf("reply = %q", reply)
	}
	e.process(t, guildMessage("!temperature 0.2"))
	e.process(t, guildMessage("hi"))
	if got := e.provider.last(t).Temperature; got != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", got)
	}

	e.process(t, guildMessage("!temperature off"))
	e.process(t, guildMessage("hi"))
	if got := e.provider.last(t).Temperature; got != e.cfg.Bot.Temperature {
		t.Errorf("Temperature = %v, want %v", got, e.cfg.Bot.Temperature)
	}
}

func TestCharacterCommands(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))

	if reply := e.process(t, guildMessage("!character Gandalf")); !strings.Contains(reply, "No character") {
		t.Errorf("reply = %q", reply)
	}
	e.process(t, guildMessage("!character create Gandalf | A wandering wizard."))
	if reply := e.process(t, guildMessage("!character list")); !strings.Contains(reply, "Gandalf") {
		t.Errorf("list reply = %q", reply)
	}
	e.process(t, guildMessage("!character gandalf"))
	e.process(t, guildMessage("who are you?"))

	system := e.provider.last(t).Messages[0].Content
	if !strings.Contains(system, "Gandalf") || !strings.Contains(system, "A wandering wizard.") {
		t.Errorf("system prompt = %q", system)
	}
	if !strings.Contains(system, "Alice Smith") {
		t.Errorf("system prompt should name the user: %q", system)
	}

	e.process(t, guildMessage("!character delete Gandalf"))
	if e.state.Channel("g1", "c1").Character != "" {
		t.Error("deleting the active character should clear it")
	}
}

func TestAliasUsedAsSpeakerName(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))
	e.process(t, guildMessage("!alias Captain Al"))
	e.process(t, guildMessage("hi"))

	msgs := e.provider.last(t).Messages
	if got := msgs[len(msgs)-1].Name; got != "Captain_Al" {
		t.Errorf("Name = %q, want %q", got, "Captain_Al")
	}
}

func TestAdventure(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})

	if reply := e.process(t, guildMessage("!adventure join a knight")); !strings.Contains(reply, "No adventure") {
		t.Errorf("reply = %q", reply)
	}
	e.process(t, guildMessage("!adventure start"))
	e.process(t, guildMessage("!adventure join {Player} is a brave knight"))

	// Adventures run even in channels that are not active
	e.process(t, guildMessage("I open the door"))

	system := e.provider.last(t).Messages[0].Content
	if !strings.Contains(system, "Alice Smith is a brave knight") {
		t.Errorf("narrator prompt = %q", system)
	}

	adv, _ := e.history.Load("discord:g1:adventure:c1")
	if len(adv) != 2 {
		t.Errorf("len(adventure history) = %d, want 2", len(adv))
	}
	chat, _ := e.history.Load("discord:g1:c1")
	if len(chat) != 0 {
		t.Errorf("len(channel history) = %d, want 0", len(chat))
	}

	e.process(t, guildMessage("!adventure end"))
	adv, _ = e.history.Load("discord:g1:adventure:c1")
	if len(adv) != 0 {
		t.Errorf("adventure history should be cleared, got %d turns", len(adv))
	}
	if e.state.Adventure("g1", "c1").Active {
		t.Error("adventure should be over")
	}
}

// memberMessage is a guild message from an author with no configured rights.
func memberMessage(content string) bus.InboundMessage {
	msg := guildMessage(content)
	msg.AuthorID = "u2"
	msg.AuthorName = "Bob"
	return msg
}

func TestSettingsCommandsRequireManager(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))
	e.process(t, guildMessage("hello"))

	refused := []string{
		"!deactivate",
		"!activate",
		"!reset",
		"!model openai/gpt-4o",
		"!temperature 0.2",
		"!character create Bob | a pirate",
		"!character delete Captain",
		"!character off",
		"!adventure start",
		"!managerrole 42",
	}
	for _, cmd := range refused {
		if reply := e.process(t, memberMessage(cmd)); reply != notPermittedReply {
			t.Errorf("%s reply = %q, want refusal", cmd, reply)
		}
	}

	if !e.state.Channel("g1", "c1").Active {
		t.Error("channel should still be active")
	}
	if turns, _ := e.history.Load("discord:g1:c1"); len(turns) != 2 {
		t.Errorf("len(history) = %d, want 2", len(turns))
	}
	if e.state.ManagerRole("g1") != "" {
		t.Errorf("ManagerRole() = %q, want empty", e.state.ManagerRole("g1"))
	}

	allowed := []string{"!help", "!model", "!temperature", "!character", "!character list", "!alias Bobby"}
	for _, cmd := range allowed {
		if reply := e.process(t, memberMessage(cmd)); reply == notPermittedReply {
			t.Errorf("%s was refused", cmd)
		}
	}
}

func TestManagerRoleGrantsSettings(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})

	if reply := e.process(t, guildMessage("!managerrole <@&42>")); reply != "Manager role set to 42." {
		t.Fatalf("reply = %q", reply)
	}

	msg := memberMessage("!activate")
	msg.Roles = []string{"7", "42"}
	e.process(t, msg)
	if !e.state.Channel("g1", "c1").Active {
		t.Error("role holder could not activate the channel")
	}

	// Role holders cannot reassign the role
	msg.Content = "!managerrole 7"
	if reply := e.process(t, msg); reply != notPermittedReply {
		t.Errorf("reply = %q, want refusal", reply)
	}
	if got := e.state.ManagerRole("g1"); got != "42" {
		t.Errorf("ManagerRole() = %q, want 42", got)
	}

	e.process(t, guildMessage("!managerrole off"))
	msg.Content = "!deactivate"
	if reply := e.process(t, msg); reply != notPermittedReply {
		t.Errorf("reply = %q, want refusal after role removal", reply)
	}
}

func TestAdminsAndDeveloperCanManage(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.cfg.Bot.DeveloperID = "dev"

	admin := memberMessage("!activate")
	admin.IsAdmin = true
	e.process(t, admin)
	if !e.state.Channel("g1", "c1").Active {
		t.Error("administrator could not activate the channel")
	}

	dev := memberMessage("!deactivate")
	dev.AuthorID = "dev"
	e.process(t, dev)
	if e.state.Channel("g1", "c1").Active {
		t.Error("developer could not deactivate the channel")
	}

	dm := memberMessage("!temperature 0.3")
	dm.GuildID = ""
	dm.IsDirect = true
	if reply := e.process(t, dm); reply == notPermittedReply {
		t.Error("direct message settings were refused")
	}
}

func TestChangesSettings(t *testing.T) {
	tests := []struct {
		cmd, args string
		want      bool
	}{
		{"reset", "", true},
		{"model", "", false},
		{"model", "x", true},
		{"character", "", false},
		{"character", "LIST", false},
		{"character", "Captain", true},
		{"adventure", "join a knight", false},
		{"adventure", "end", true},
		{"alias", "Al", false},
		{"help", "", false},
	}
	for _, tt := range tests {
		if got := changesSettings(tt.cmd, tt.args); got != tt.want {
			t.Errorf("changesSettings(%q, %q) = %v, want %v", tt.cmd, tt.args, got, tt.want)
		}
	}
}

func TestUnknownCommandIsOrdinaryMessage(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))

	if reply := e.process(t, guildMessage("!wave")); reply != "hello!" {
		t.Errorf("reply = %q, want %q", reply, "hello!")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		cmd  string
		args string
		ok   bool
	}{
		{"!reset", "reset", "", true},
		{"!Model  openai/gpt-4o ", "model", "openai/gpt-4o", true},
		{"! reset", "reset", "", true},
		{"!", "", "", false},
		{"hello", "", "", false},
	}
	for _, tt := range tests {
		cmd, args, ok := parseCommand(tt.in, "!")
		if cmd != tt.cmd || args != tt.args || ok != tt.ok {
			t.Errorf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.in, cmd, args, ok, tt.cmd, tt.args, tt.ok)
		}
	}
}

// collect subscribes to platform and dispatches until n messages arrive.
func collect(t *testing.T, b *bus.MessageBus, platform string, n int) []bus.OutboundMessage {
	t.Helper()
	var (
		mu  sync.Mutex
		got []bus.OutboundMessage
	)
	done := make(chan struct{})
	b.SubscribeOutbound(platform, func(m bus.OutboundMessage) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
		if len(got) == n {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("received %d outbound messages, want %d", len(got), n)
	}
	mu.Lock()
	defer mu.Unlock()
	return append([]bus.OutboundMessage(nil), got...)
}

func TestHandlePublishesSegmentsInOrder(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))
	e.provider.reply = strings.Repeat("A", 5000)

	e.loop.handle(context.Background(), guildMessage("long please"))

	out := collect(t, e.bus, "discord", 3)
	wantLens := []int{1950, 1950, 1100}
	for i, m := range out {
		if len(m.Content) != wantLens[i] {
			t.Errorf("segment %d len = %d, want %d", i, len(m.Content), wantLens[i])
		}
		if m.ChannelID != "c1" {
			t.Errorf("segment %d ChannelID = %q", i, m.ChannelID)
		}
	}
	if out[0].ReplyTo != "m1" || out[1].ReplyTo != "" {
		t.Errorf("ReplyTo = %q, %q; want only the first segment to reply", out[0].ReplyTo, out[1].ReplyTo)
	}
}

func TestHandleReportsCompletionFailure(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	e.process(t, guildMessage("!activate"))
	e.provider.err = fmt.Errorf("%w: 503", providers.ErrCompletionFailed)

	e.loop.handle(context.Background(), guildMessage("hi"))

	out := collect(t, e.bus, "discord", 1)
	if out[0].Content != completionFailedReply {
		t.Errorf("Content = %q, want %q", out[0].Content, completionFailedReply)
	}
}

func TestRunProcessesInjectedMessages(t *testing.T) {
	e := newTestEnv(t, perMessageCounter{cost: 1})
	msg := guildMessage("ping")
	msg.GuildID = ""
	msg.IsDirect = true

	var (
		mu  sync.Mutex
		got []string
	)
	received := make(chan struct{}, 1)
	e.bus.SubscribeOutbound("discord", func(m bus.OutboundMessage) error {
		mu.Lock()
		got = append(got, m.Content)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.loop.Run(ctx) }()

	e.loop.InjectMessage(msg)
	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("no reply published")
	}

	e.loop.Stop()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not stop")
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "hello!" {
		t.Errorf("published = %v", got)
	}
}

func TestKeyedMutexSerializes(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			defer unlock()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if k.size() != 0 {
		t.Errorf("size() = %d, want 0 after release", k.size())
	}
}

func TestBuildMessagesAttachesImagesToLastUserTurn(t *testing.T) {
	window := []session.Turn{
		{Role: session.RoleSystem, Content: "sys"},
		{Role: session.RoleUser, Content: "a"},
		{Role: session.RoleAssistant, Content: "b"},
		{Role: session.RoleUser, Name: "bob", Content: "look"},
	}
	msgs := BuildMessages(window, []string{"https://img"})

	if len(msgs[3].Images) != 1 || msgs[1].Images != nil {
		t.Errorf("images on wrong message: %+v", msgs)
	}
	if msgs[3].Name != "bob" {
		t.Errorf("Name = %q, want bob", msgs[3].Name)
	}
}
