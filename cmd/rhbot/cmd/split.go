package cmd

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/rhbot/rhbot/internal/chunk"
)

var (
	splitPlatform  string
	splitParagraph int
	splitHard      int
)

var splitCmd = &cobra.Command{
	Use:   "split [file]",
	Short: "Split text into platform-sized messages",
	Long:  "Show how a reply (a file, or stdin) would be split before sending.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSplit,
}

func init() {
	splitCmd.Flags().StringVarP(&splitPlatform, "platform", "p", "discord", "platform whose limits apply (discord, telegram)")
	splitCmd.Flags().IntVar(&splitParagraph, "paragraph-limit", 0, "override the paragraph limit")
	splitCmd.Flags().IntVar(&splitHard, "hard-limit", 0, "override the hard limit")
}

func runSplit(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	limits := chunk.LimitsFor(splitPlatform)
	if splitParagraph > 0 {
		limits.Paragraph = splitParagraph
	}
	if splitHard > 0 {
		limits.Hard = splitHard
	}
	if limits.Paragraph > limits.Hard {
		return fmt.Errorf("paragraph limit %d exceeds hard limit %d", limits.Paragraph, limits.Hard)
	}

	fmt.Fprint(cmd.OutOrStdout(), formatSegments(chunk.SplitLimits(string(data), limits)))
	return nil
}

// formatSegments renders segments with a numbered header each.
func formatSegments(segments []string) string {
	var sb strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&sb, "--- segment %d/%d (%d chars) ---\n%s\n", i+1, len(segments), utf8.RuneCountInString(s), s)
	}
	return sb.String()
}
