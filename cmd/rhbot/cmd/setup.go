package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rhbot/rhbot/internal/config"
	"github.com/rhbot/rhbot/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Long:  "Walk through API keys, chat platforms and storage, then write the config file.",
	RunE:  runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	base := config.DefaultConfig()
	if config.Exists(configPath) {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		base = cfg
	}

	if _, err := tui.RunSetup(base, configPath); err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "\nStart the bot with: rhbot serve")
	return nil
}
