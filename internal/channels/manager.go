package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/config"
)

// Manager manages the lifecycle of chat platform adapters.
type Manager struct {
	config   *config.Config
	bus      *bus.MessageBus
	logger   *slog.Logger
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates a new channel manager.
func NewManager(cfg *config.Config, msgBus *bus.MessageBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:   cfg,
		bus:      msgBus,
		logger:   logger.With("component", "channels"),
		channels: make(map[string]Channel),
	}
}

// Initialize creates enabled channels based on configuration.
// This must be called before StartAll.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dc := m.config.Channels.Discord; dc.Enabled {
		if dc.Token == "" {
			return fmt.Errorf("discord channel enabled but token not configured")
		}
		m.channels["discord"] = NewDiscordChannel(dc, m.bus, m.logger)
		m.logger.Info("channel initialized", "channel", "discord")
	}

	if tc := m.config.Channels.Telegram; tc.Enabled {
		if tc.Token == "" {
			return fmt.Errorf("telegram channel enabled but token not configured")
		}
		ch := NewTelegramChannel(tc, m.bus, m.logger)
		ch.commandPrefix = m.config.Bot.CommandPrefix
		m.channels["telegram"] = ch
		m.logger.Info("channel initialized", "channel", "telegram")
	}

	if len(m.channels) == 0 {
		m.logger.Warn("no channels are enabled")
	}
	return nil
}

// StartAll starts all initialized channels.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to start channel %s: %w", name, err))
			continue
		}
		m.logger.Info("channel started", "channel", name)
	}
	return errors.Join(errs...)
}

// StopAll gracefully stops all running channels.
func (m *Manager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop channel %s: %w", name, err))
			continue
		}
		m.logger.Info("channel stopped", "channel", name)
	}
	return errors.Join(errs...)
}

// GetChannel returns a channel by name, or nil if not found.
func (m *Manager) GetChannel(name string) Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// ListChannels returns a sorted list of all channel names.
func (m *Manager) ListChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("cannot register nil channel")
	}
	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %s already registered", name)
	}
	m.channels[name] = ch
	return nil
}

// RunningChannels returns a list of currently running channel names.
func (m *Manager) RunningChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var running []string
	for name, ch := range m.channels {
		if ch.IsRunning() {
			running = append(running, name)
		}
	}
	sort.Strings(running)
	return running
}
