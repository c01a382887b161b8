package channels

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rhbot/rhbot/internal/bus"
)

// Channel is the interface all chat platform adapters implement.
type Channel interface {
	// Name returns the platform identifier (discord, telegram).
	Name() string

	// Start connects and begins listening for messages.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop() error

	// Send delivers one pre-chunked outbound segment.
	Send(msg bus.OutboundMessage) error

	// IsRunning returns true if the channel is currently active.
	IsRunning() bool
}

// BaseChannel provides common functionality for all channel implementations.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	logger    *slog.Logger
	running   bool
	mu        sync.RWMutex
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string, logger *slog.Logger) BaseChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
		logger:    logger.With("component", name),
	}
}

// Name returns the channel's unique identifier.
func (c *BaseChannel) Name() string {
	return c.name
}

// IsRunning returns true if the channel is currently active.
func (c *BaseChannel) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *BaseChannel) setRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
}

// IsAllowed checks if a sender may talk to the bot. An empty allow list
// admits everyone. Any of ids (user id, username) may match.
func (c *BaseChannel) IsAllowed(ids ...string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && slices.Contains(c.allowList, id) {
			return true
		}
	}
	c.logger.Info("message from sender not in allow list", "sender", strings.Join(ids, "|"))
	return false
}

// publishInbound stamps and publishes an inbound message to the bus.
func (c *BaseChannel) publishInbound(msg bus.InboundMessage) {
	msg.Platform = c.name
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.bus.PublishInbound(msg)
}

// subscribe routes this platform's outbound messages to send.
func (c *BaseChannel) subscribe(send func(bus.OutboundMessage) error) {
	c.bus.SubscribeOutbound(c.name, send)
}
