// Package agent implements the conversation engine: it turns inbound chat
// messages into windowed completion requests and chunked replies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/chunk"
	"github.com/rhbot/rhbot/internal/config"
	"github.com/rhbot/rhbot/internal/prompt"
	"github.com/rhbot/rhbot/internal/providers"
	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/state"
	"github.com/rhbot/rhbot/internal/window"
)

// Reply sent when the model could not produce a response.
const completionFailedReply = "Sorry, I couldn't get a response from the model. Please try again in a moment."

// Loop is the main processing loop that handles incoming messages,
// windows the conversation history and publishes chunked replies.
type Loop struct {
	bus      *bus.MessageBus
	provider providers.Provider
	history  session.Store
	state    *state.Store
	window   *window.Builder
	prompts  *prompt.Builder
	context  *ContextBuilder
	config   *config.Config
	logger   *slog.Logger

	locks    *keyedMutex
	inflight sync.WaitGroup

	running bool
	mu      sync.RWMutex

	// stopCh is used to signal the loop to stop
	stopCh chan struct{}
}

// LoopConfig contains the configuration for creating a new Loop.
type LoopConfig struct {
	Bus      *bus.MessageBus
	Provider providers.Provider
	Config   *config.Config
	History  session.Store
	State    *state.Store
	Counter  window.Counter
	Logger   *slog.Logger
}

// NewLoop creates a new loop with the given configuration.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("message bus is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Counter == nil {
		return nil, fmt.Errorf("token counter is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prompts := prompt.NewBuilder(cfg.State, cfg.Config.Bot.DeveloperName)

	return &Loop{
		bus:      cfg.Bus,
		provider: cfg.Provider,
		history:  cfg.History,
		state:    cfg.State,
		window:   window.NewBuilder(cfg.Counter, logger),
		prompts:  prompts,
		context:  NewContextBuilder(cfg.Config, cfg.State, prompts),
		config:   cfg.Config,
		logger:   logger.With("component", "agent"),
		locks:    newKeyedMutex(),
		stopCh:   make(chan struct{}),
	}, nil
}

// Run processes messages until the context is cancelled or Stop is called.
// Each message is handled in its own goroutine; messages for the same
// conversation are handled one at a time, in arrival order of the lock.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loop is already running")
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	defer func() {
		l.inflight.Wait()
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	go l.bus.DispatchOutbound(ctx)

	l.logger.Info("agent loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopped", "reason", "context cancelled")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("agent loop stopped", "reason", "stop signal")
			return nil
		default:
		}

		msg, err := l.bus.ConsumeInboundWithTimeout(ctx, 1*time.Second)
		if errors.Is(err, bus.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("failed to consume message", "error", err)
			continue
		}

		l.inflight.Add(1)
		go func() {
			defer l.inflight.Done()
			l.handle(ctx, msg)
		}()
	}
}

// Stop signals the loop to stop processing.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		select {
		case <-l.stopCh:
		default:
			close(l.stopCh)
		}
	}
}

// IsRunning returns whether the loop is currently running.
func (l *Loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// handle processes one message under its conversation lock and publishes
// the reply. Errors are reported in-band.
func (l *Loop) handle(ctx context.Context, msg bus.InboundMessage) {
	unlock := l.locks.Lock(msg.ConversationKey())
	defer unlock()

	reply, err := l.ProcessMessage(ctx, msg)
	if err != nil {
		l.logger.Error("failed to process message", "key", msg.ConversationKey(), "error", err)
		if errors.Is(err, providers.ErrCompletionFailed) {
			reply = completionFailedReply
		} else {
			reply = fmt.Sprintf("Error: %v", err)
		}
	}
	l.publish(msg, reply)
}

// publish splits text for the message's platform and sends one outbound
// message per segment, in order. The first segment replies to msg.
func (l *Loop) publish(msg bus.InboundMessage, text string) {
	first := true
	for seg := range chunk.Segments(text, chunk.LimitsFor(msg.Platform)) {
		out := bus.OutboundMessage{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			Content:   seg,
		}
		if first {
			out.ReplyTo = msg.MessageID
			first = false
		}
		l.bus.PublishOutbound(out)
	}
}

// ProcessMessage handles a single inbound message and returns the reply
// text, which is empty when the message needs no answer.
//
// The user turn is appended to history, the window is built under the
// token budget, and on success the trimmed history plus the reply replaces
// the stored conversation. If the completion fails the stored history keeps
// the user turn untrimmed and the error wraps providers.ErrCompletionFailed.
func (l *Loop) ProcessMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	conv := l.context.resolve(msg)

	if cmd, args, ok := parseCommand(msg.Content, l.config.Bot.CommandPrefix); ok {
		reply, handled, err := l.runCommand(msg, conv, cmd, args)
		if handled {
			return reply, err
		}
	}

	if !conv.active(msg.IsDirect) {
		return "", nil
	}

	history, err := l.history.Load(conv.key)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	name := l.prompts.SpeakerName(msg.AuthorID, msg.AuthorName)
	turn := session.NewTurn(session.RoleUser, name, msg.Content)
	if err := l.history.Append(conv.key, turn); err != nil {
		return "", fmt.Errorf("failed to save history: %w", err)
	}
	history = append(history, turn)

	model := l.context.Model(conv)
	win, err := l.window.Build(ctx, l.context.SystemPrompt(conv, msg), history, model, l.config.Bot.TokenBudget)
	if err != nil {
		return "", fmt.Errorf("failed to build window: %w", err)
	}

	resp, err := l.provider.Chat(ctx, providers.ChatRequest{
		Messages:    BuildMessages(win.Messages, msg.Images),
		Model:       model,
		MaxTokens:   l.config.Bot.MaxTokens,
		Temperature: l.context.Temperature(conv),
	})
	if err != nil {
		return "", err
	}

	l.logger.Debug("completion",
		"key", conv.key,
		"model", model,
		"window_tokens", win.Tokens,
		"evicted", win.Evicted,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	trimmed := append(win.Trimmed, session.NewTurn(session.RoleAssistant, "", resp.Content))
	if err := l.history.Replace(conv.key, trimmed); err != nil {
		l.logger.Error("failed to save history", "key", conv.key, "error", err)
	}
	return resp.Content, nil
}

// InjectMessage injects a message into the inbound queue for processing.
func (l *Loop) InjectMessage(msg bus.InboundMessage) {
	l.bus.PublishInbound(msg)
}
