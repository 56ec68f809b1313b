package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for keyharvest.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyharvest",
		Short: "Keyword frequency harvester for the Wordstat suggestion service",
		Long: `keyharvest collects keyword impression counts and related suggestions.

It runs one browser session per account, each with its own proxy and
fingerprint, splits the phrase list over all eligible accounts and merges
their results. Accounts that hit captchas or rate limits are cooled down
and their unfinished phrases are handed to the remaining accounts.

Accounts, proxies, results and jobs are kept in a SQLite database in the
XDG data directory (~/.local/share/keyharvest on Linux).`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON lines")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .keyharvest in current or home directory)")
	cmd.PersistentFlags().String("data-dir", "",
		"Directory of the SQLite database (default: XDG data directory)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewResultsCmd())
	cmd.AddCommand(NewJobsCmd())
	cmd.AddCommand(NewProxyCmd())
	cmd.AddCommand(NewAccountCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
