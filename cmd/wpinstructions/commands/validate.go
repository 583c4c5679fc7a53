package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wpinstructions/wpinstructions/pkg/config"
	"github.com/wpinstructions/wpinstructions/pkg/engine"
	"github.com/wpinstructions/wpinstructions/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		file     string
		policies []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check an instruction file without running it",
		Long: `Parse and prepare every instruction of the file and print the options
each one would run with.

This command checks:
  - every action names a registered instruction type
  - policies, when given, allow every instruction

Nothing is executed and no WordPress install is loaded.`,
		Example: `  # Validate ./WPInstructions
  wpinstructions validate

  # Validate another file against a policy directory
  wpinstructions validate --file site.wpi --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("file") {
				settings.Script = file
			}
			if len(policies) > 0 {
				settings.Policy = strings.Join(policies, ",")
			}

			return validateScript(cmd, settings)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", config.DefaultScript, "instruction file")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "Rego policy file, directory or builtin:<name> (repeatable)")

	return cmd
}

func validateScript(cmd *cobra.Command, s *config.Settings) (err error) {
	ctx := cmd.Context()

	data, err := os.ReadFile(s.Script)
	if err != nil {
		return fmt.Errorf("failed to read instruction file: %w", err)
	}

	a, err := newApp(s)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(ctx); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("Failed to shut down cleanly")
		}
	}()

	report, prepErr := a.engine().Prepare(string(data))

	var errs []error
	if prepErr != nil {
		errs = append(errs, prepErr)
	}

	if paths := s.PolicyPaths(); len(paths) > 0 {
		args, err := runArgs(s)
		if err != nil {
			return err
		}
		gate, err := policy.Load(ctx, paths, a.logger)
		if err != nil {
			return err
		}
		for i := range report.Steps {
			step := &report.Steps[i]
			if step.Err != nil {
				continue
			}
			reasons, err := gate.Check(ctx, engine.GateRequest{
				Action:  step.Action,
				Options: step.Options,
				Line:    step.Line,
				Source:  step.Source,
				Path:    args.Path,
			})
			if err == nil && len(reasons) > 0 {
				err = engine.NewPolicyError(strings.Join(reasons, "; "), nil).WithInstruction(step.Line, step.Source)
			}
			if err != nil {
				step.Err = err
				errs = append(errs, err)
			}
		}
	}

	if err := printPrepared(cmd, report); err != nil {
		return err
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func printPrepared(cmd *cobra.Command, report *engine.Report) error {
	w := cmd.OutOrStdout()

	if jsonOutput {
		steps := make([]stepView, 0, len(report.Steps))
		for _, s := range report.Steps {
			v := newStepView(s)
			if s.Err != nil {
				v.Status = "invalid"
			} else {
				v.Status = "ok"
			}
			steps = append(steps, v)
		}
		return printJSON(w, steps)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range report.Steps {
		if s.Err != nil {
			fmt.Fprintf(tw, "%d\t%s\terror: %s\n", s.Line, s.Action, s.Err)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Line, s.Action, s.Options)
	}
	return tw.Flush()
}
