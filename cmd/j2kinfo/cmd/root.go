package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adeilla-codes/j2kcore/internal/logging"
)

// NewRoot builds the j2kinfo command tree.
func NewRoot(ctx context.Context, gitSHA string) *cobra.Command {
	root := &cobra.Command{
		Use:   "j2kinfo",
		Short: "inspect and decode JPEG 2000 codestreams",
		Long:  "j2kinfo reads JP2/J2K files, reports their header geometry, and can decode them to PNG.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logLevel, _ := cmd.Flags().GetString("log-level")

			var level slog.Level
			if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
				level = slog.LevelInfo
			}
			jsonLogs, _ := cmd.Flags().GetBool("json")
			slog.SetDefault(logging.Logger(os.Stdout, jsonLogs, level))
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}

	root.AddCommand(
		NewVersionCmd(ctx, gitSHA),
		NewInfoCmd(ctx),
		NewDecodeCmd(ctx),
	)

	pf := root.PersistentFlags()
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.Bool("json", false, "emit structured JSON logs instead of text")

	return root
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Println(strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, sub := range cmd.Commands() {
		printCommandTree(sub, indent+1)
	}
}

// NewVersionCmd reports the build's git SHA.
func NewVersionCmd(ctx context.Context, gitSHA string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(gitSHA)
		},
	}
}
