package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrTimeout is returned when a message receive operation times out.
var ErrTimeout = errors.New("timeout waiting for message")

// OutboundHandler delivers an outbound message to a platform.
type OutboundHandler func(OutboundMessage) error

// MessageBus provides a channel-based message passing system for inbound
// and outbound messages with subscriber support.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	subscribers map[string][]OutboundHandler
	mu          sync.RWMutex

	logger    *slog.Logger
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMessageBus creates a new MessageBus with the specified buffer size
// for both inbound and outbound channels.
func NewMessageBus(bufferSize int, logger *slog.Logger) *MessageBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBus{
		inbound:     make(chan InboundMessage, bufferSize),
		outbound:    make(chan OutboundMessage, bufferSize),
		subscribers: make(map[string][]OutboundHandler),
		logger:      logger.With("component", "bus"),
		closed:      make(chan struct{}),
	}
}

// PublishInbound sends a message to the inbound channel.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case <-b.closed:
		return
	case b.inbound <- msg:
	}
}

// ConsumeInboundWithTimeout waits for an inbound message with a timeout.
// Returns ErrTimeout if no message is received within the specified duration.
func (b *MessageBus) ConsumeInboundWithTimeout(ctx context.Context, timeout time.Duration) (InboundMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-timer.C:
		return InboundMessage{}, ErrTimeout
	case <-ctx.Done():
		return InboundMessage{}, ctx.Err()
	}
}

// PublishOutbound sends a message to the outbound channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case <-b.closed:
		return
	case b.outbound <- msg:
	}
}

// SubscribeOutbound registers a handler for outbound messages to platform.
func (b *MessageBus) SubscribeOutbound(platform string, handler OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[platform] = append(b.subscribers[platform], handler)
}

// DispatchOutbound delivers outbound messages until ctx is cancelled or
// the bus is closed. Handlers run one message at a time in publish order,
// so the segments of a reply arrive in sequence.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		case msg := <-b.outbound:
			b.mu.RLock()
			handlers := b.subscribers[msg.Platform]
			b.mu.RUnlock()

			if len(handlers) == 0 {
				b.logger.Warn("no subscriber for outbound message", "platform", msg.Platform, "channel", msg.ChannelID)
				continue
			}
			for _, h := range handlers {
				b.deliver(h, msg)
			}
		}
	}
}

func (b *MessageBus) deliver(h OutboundHandler, msg OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("outbound handler panicked", "platform", msg.Platform, "panic", r)
		}
	}()
	if err := h(msg); err != nil {
		b.logger.Error("failed to deliver message", "platform", msg.Platform, "channel", msg.ChannelID, "error", err)
	}
}

// InboundSize returns the current number of messages in the inbound channel.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the current number of messages in the outbound channel.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}

// Close closes the message bus, stopping all dispatch operations.
// It is safe to call more than once.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
