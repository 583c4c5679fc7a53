package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

type typeView struct {
	Action              string              `json:"action"`
	RequiresEnvironment bool                `json:"requires_environment"`
	Defaults            instruction.Options `json:"defaults"`
}

func newTypesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the registered instruction types",
		Long: `List every action an instruction file may use, its default options, and
whether it needs a loaded WordPress install.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			a, err := newApp(settings)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(cmd.Context()) }()

			views := listTypes(a.registry)
			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, views)
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTION\tENVIRONMENT\tDEFAULTS")
			for _, v := range views {
				env := "no"
				if v.RequiresEnvironment {
					env = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Action, env, v.Defaults)
			}
			return tw.Flush()
		},
	}

	return cmd
}

func listTypes(reg *instruction.Registry) []typeView {
	views := make([]typeView, 0, reg.Len())
	for _, action := range reg.Actions() {
		t, ok := reg.Lookup(action)
		if !ok {
			continue
		}
		views = append(views, typeView{
			Action:              action,
			RequiresEnvironment: t.RequiresEnvironment(),
			Defaults:            t.Defaults(),
		})
	}
	return views
}
