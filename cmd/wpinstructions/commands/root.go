package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	appVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	appVersion = version

	rootCmd := &cobra.Command{
		Use:   "wpinstructions",
		Short: "WPInstructions - declarative WordPress provisioning",
		Long: `wpinstructions reads a file of one-line instructions and applies them to a
WordPress install, in order, stopping at the first failure.

  install wordpress where version is 6.4 and site url is http://localhost
  install plugin where name is akismet and status is active
  enable theme where name is twentytwentyfour

Every line names an action followed by optional "where <subject> is <object>"
clauses joined with "and".`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file (default .wpinstructions.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newTypesCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
