package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rhbot/rhbot/internal/logging"
	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration status",
	Long:  "Display the current RHBot configuration: channels, API keys, model profiles and stored conversations.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	info := tui.StatusInfo{LatestLog: logging.Latest(cfg.LogPath())}

	store, err := session.Open(cfg.Storage.Backend, cfg.DataPath(), cfg.SQLitePath(), stderrLogger(cfg))
	if err == nil {
		info.Conversations, _ = store.List()
		store.Close()
	}

	tui.ShowStatus(cfg, info)

	if err := cfg.Validate(); err != nil {
		cmd.PrintErrf("\nConfiguration problems:\n%v\n", err)
	}
	return nil
}
