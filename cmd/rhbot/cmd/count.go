package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhbot/rhbot/internal/session"
	"github.com/rhbot/rhbot/internal/tokens"
	"github.com/rhbot/rhbot/internal/window"
)

var (
	countModel  string
	countSystem string
	countBudget int
)

var countCmd = &cobra.Command{
	Use:   "count [file]",
	Short: "Count the tokens of a message list",
	Long: `Count tokens the way the bot does before each completion.

The input (a file, or stdin when omitted or "-") is either a JSON array of
{"role","name","content"} messages or plain text, taken as one user message.
With --budget the window is also trimmed and the surviving turns reported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCount,
}

func init() {
	countCmd.Flags().StringVarP(&countModel, "model", "m", "", "model id (default: configured model)")
	countCmd.Flags().StringVarP(&countSystem, "system", "s", "", "system prompt to prepend")
	countCmd.Flags().IntVarP(&countBudget, "budget", "b", 0, "token budget to trim to")
}

func runCount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := stderrLogger(cfg)

	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	turns, err := parseTurns(data)
	if err != nil {
		return err
	}

	model := countModel
	if model == "" {
		model = cfg.Bot.Model
	}

	registry, err := tokens.FromProfiles(cfg.Models, tokens.Options{
		AnthropicAPIKey: cfg.Providers.Anthropic.APIKey,
		AnthropicBase:   cfg.Providers.Anthropic.APIBase,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if countBudget <= 0 {
		messages := turns
		if countSystem != "" {
			messages = append([]session.Turn{{Role: session.RoleSystem, Content: countSystem}}, turns...)
		}
		n, err := registry.Count(cmd.Context(), messages, model)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\n", n)
		return nil
	}

	res, err := window.NewBuilder(registry, logger).Build(cmd.Context(), countSystem, turns, model, countBudget)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "tokens:  %d\n", res.Tokens)
	fmt.Fprintf(out, "kept:    %d\n", len(res.Trimmed))
	fmt.Fprintf(out, "evicted: %d\n", res.Evicted)
	return nil
}

// readInput reads the named file, or stdin for "-" or no argument.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}

// parseTurns decodes a JSON message array; anything else is one user turn.
func parseTurns(data []byte) ([]session.Turn, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if trimmed[0] != '[' {
		return []session.Turn{{Role: session.RoleUser, Content: string(trimmed)}}, nil
	}

	var turns []session.Turn
	if err := json.Unmarshal(trimmed, &turns); err != nil {
		return nil, fmt.Errorf("invalid message list: %w", err)
	}
	for i, t := range turns {
		switch t.Role {
		case session.RoleSystem, session.RoleUser, session.RoleAssistant:
		default:
			return nil, fmt.Errorf("message %d: unknown role %q", i, t.Role)
		}
	}
	return turns, nil
}
