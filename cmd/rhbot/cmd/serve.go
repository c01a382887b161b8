package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhbot/rhbot/internal/agent"
	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/channels"
	"github.com/rhbot/rhbot/internal/logging"
	"github.com/rhbot/rhbot/internal/providers"
	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/state"
	"github.com/rhbot/rhbot/internal/tokens"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the chat platforms and answer messages",
	Long:  "Start the bot: connect the configured Discord and Telegram channels and process messages until interrupted.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Configuration is incomplete:\n%v\n\nRun 'rhbot setup' to fix it.\n", err)
		return err
	}

	logger, logCloser, err := logging.Setup(cfg.LogPath(), cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	history, err := session.Open(cfg.Storage.Backend, cfg.DataPath(), cfg.SQLitePath(), logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer history.Close()

	st, err := state.NewStore(cfg.DataPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	registry, err := tokens.FromProfiles(cfg.Models, tokens.Options{
		AnthropicAPIKey: cfg.Providers.Anthropic.APIKey,
		AnthropicBase:   cfg.Providers.Anthropic.APIBase,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build token counters: %w", err)
	}

	provider, err := providers.NewProviderFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	msgBus := bus.NewMessageBus(100, logger)
	defer msgBus.Close()

	loop, err := agent.NewLoop(agent.LoopConfig{
		Bus:      msgBus,
		Provider: provider,
		Config:   cfg,
		History:  history,
		State:    st,
		Counter:  registry,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent loop: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := channels.NewManager(cfg, msgBus, logger)
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize channels: %w", err)
	}
	if err := manager.StartAll(ctx); err != nil {
		manager.StopAll()
		return err
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	logger.Info("RHBot is running",
		"channels", manager.RunningChannels(),
		"model", cfg.Bot.Model,
		"storage", cfg.Storage.Backend,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := manager.StopAll(); err != nil {
		logger.Error("failed to stop channels", "error", err)
	}

	select {
	case err := <-loopDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out waiting for in-flight messages")
	}
	return nil
}
