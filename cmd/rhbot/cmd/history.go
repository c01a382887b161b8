package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rhbot/rhbot/internal/session"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: withHistory(func(cmd *cobra.Command, store session.Store, args []string) error {
		infos, err := store.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tTURNS\tUPDATED")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%d\t%s\n", info.Key, info.TurnCount, info.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	}),
}

var historyShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: withHistory(func(cmd *cobra.Command, store session.Store, args []string) error {
		turns, err := store.Load(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, t := range turns {
			who := t.Role
			if t.Name != "" {
				who += " (" + t.Name + ")"
			}
			fmt.Fprintf(out, "[%s] %s\n%s\n\n", t.Timestamp.Format("2006-01-02 15:04:05"), who, t.Content)
		}
		return nil
	}),
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <key>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: withHistory(func(cmd *cobra.Command, store session.Store, args []string) error {
		if err := store.Clear(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", args[0])
		return nil
	}),
}

var historyTrimCmd = &cobra.Command{
	Use:   "trim <key> <n>",
	Short: "Drop the n oldest turns of a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: withHistory(func(cmd *cobra.Command, store session.Store, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid turn count %q", args[1])
		}
		if err := store.Trim(args[0], n); err != nil {
			return err
		}
		turns, err := store.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Trimmed %s, %d turns left\n", args[0], len(turns))
		return nil
	}),
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyTrimCmd, historyClearCmd)
}

// withHistory opens the configured history store around fn.
func withHistory(fn func(*cobra.Command, session.Store, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := session.Open(cfg.Storage.Backend, cfg.DataPath(), cfg.SQLitePath(), stderrLogger(cfg))
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer store.Close()
		return fn(cmd, store, args)
	}
}
