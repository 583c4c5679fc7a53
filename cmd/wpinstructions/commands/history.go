package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wpinstructions/wpinstructions/pkg/stores"
)

type runHistoryView struct {
	*stores.Run
	Results []*stores.InstructionResult `json:"results,omitempty"`
}

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List the runs recorded with "run --history", newest first. Given a run ID,
show the outcome of each of its instructions.`,
		Example: `  # Last 10 runs
  wpinstructions history --limit 10

  # Instructions of one run
  wpinstructions history 5f1c2c0e-7a8e-4a8e-9d52-0c6f4f6f1b1e`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				settings.History.Path = dbPath
			}
			if _, err := os.Stat(settings.History.Path); err != nil {
				return fmt.Errorf("no run history at %s: %w", settings.History.Path, err)
			}

			store, err := openStore(ctx, settings.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}
			return listRuns(cmd, store, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")
	cmd.Flags().StringVar(&dbPath, "db", "", "history database (default from settings)")

	return cmd
}

func listRuns(cmd *cobra.Command, store stores.Store, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit, 0)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, runs)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTARTED\tDURATION\tINSTRUCTIONS\tSCRIPT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Status, r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Millisecond), r.Instructions, r.ScriptPath)
	}
	return tw.Flush()
}

func showRun(cmd *cobra.Command, store stores.Store, id string) error {
	ctx := cmd.Context()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	results, err := store.ListResults(ctx, id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, runHistoryView{Run: run, Results: results})
	}

	fmt.Fprintf(w, "Run %s %s (%s, %s)\n", run.ID, run.Status, run.ScriptPath, run.WPPath)
	if run.Error != nil {
		fmt.Fprintf(w, "Error: %s\n", *run.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Line, r.Status, r.Source, r.Duration.Round(time.Millisecond))
		if r.Error != nil {
			fmt.Fprintf(tw, "\t\terror: %s\n", *r.Error)
		}
	}
	return tw.Flush()
}
