package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wpinstructions/wpinstructions/pkg/bridge"
	"github.com/wpinstructions/wpinstructions/pkg/config"
	"github.com/wpinstructions/wpinstructions/pkg/engine"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
	"github.com/wpinstructions/wpinstructions/pkg/policy"
	"github.com/wpinstructions/wpinstructions/pkg/stores"
)

type runOptions struct {
	path             string
	dbHost           string
	configDBHost     string
	configDBName     string
	configDBUser     string
	configDBPassword string
	siteURL          string
	homeURL          string
	file             string
	watch            bool
	history          bool
	policies         []string
	metricsFile      string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an instruction file against a WordPress install",
		Long: `Run every instruction of the file in order.

The run stops at the first failed instruction; instructions that already ran
are not undone. Instructions that need a loaded WordPress install bootstrap it
once, right before the first of them runs.`,
		Example: `  # Run ./WPInstructions against the install in the current directory
  wpinstructions run

  # Install into another directory with fresh database credentials
  wpinstructions run --path /srv/www --config-db-name wp --config-db-user wp --config-db-password secret

  # Re-run whenever the file changes, recording every run
  wpinstructions run --file site.wpi --watch --history

  # Refuse unpinned versions
  wpinstructions run --policy builtin:pinned-versions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			applyRunFlags(cmd, settings, opts)

			return runScript(cmd, settings, opts.watch)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.path, "path", "", "WordPress root (default: current directory)")
	f.StringVar(&opts.dbHost, "db-host", "", "override DB_HOST when connecting to an existing install")
	f.StringVar(&opts.configDBHost, "config-db-host", "", "DB_HOST written to a new wp-config.php")
	f.StringVar(&opts.configDBName, "config-db-name", "", "DB_NAME written to wp-config.php")
	f.StringVar(&opts.configDBUser, "config-db-user", "", "DB_USER written to wp-config.php")
	f.StringVar(&opts.configDBPassword, "config-db-password", "", "DB_PASSWORD written to wp-config.php")
	f.StringVar(&opts.siteURL, "site-url", "", "site url used by install wordpress")
	f.StringVar(&opts.homeURL, "home-url", "", "home url used by install wordpress")
	f.StringVarP(&opts.file, "file", "f", config.DefaultScript, "instruction file")
	f.BoolVarP(&opts.watch, "watch", "w", false, "run again whenever the instruction file changes")
	f.BoolVar(&opts.history, "history", false, "record the run in the history database")
	f.StringSliceVar(&opts.policies, "policy", nil, "Rego policy file, directory or builtin:<name> (repeatable)")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")

	return cmd
}

// applyRunFlags overrides settings with the flags that were set.
func applyRunFlags(cmd *cobra.Command, s *config.Settings, opts *runOptions) {
	f := cmd.Flags()
	set := func(name string, dst *string, value string) {
		if f.Changed(name) {
			*dst = value
		}
	}

	set("path", &s.WordPress.Path, opts.path)
	set("db-host", &s.WordPress.DBHost, opts.dbHost)
	set("config-db-host", &s.WordPress.ConfigDBHost, opts.configDBHost)
	set("config-db-name", &s.WordPress.ConfigDBName, opts.configDBName)
	set("config-db-user", &s.WordPress.ConfigDBUser, opts.configDBUser)
	set("config-db-password", &s.WordPress.ConfigDBPassword, opts.configDBPassword)
	set("site-url", &s.WordPress.SiteURL, opts.siteURL)
	set("home-url", &s.WordPress.HomeURL, opts.homeURL)
	set("file", &s.Script, opts.file)
	set("metrics-file", &s.Metrics.File, opts.metricsFile)

	if f.Changed("history") {
		s.History.Enabled = opts.history
	}
	if len(opts.policies) > 0 {
		s.Policy = strings.Join(opts.policies, ",")
	}
}

// runArgs returns the global arguments of a run with the path normalized.
func runArgs(s *config.Settings) (instruction.GlobalArgs, error) {
	args := s.GlobalArgs()
	path, err := bridge.NormalizePath(args.Path)
	if err != nil {
		return args, err
	}
	args.Path = path
	return args, nil
}

func runScript(cmd *cobra.Command, s *config.Settings, watch bool) (err error) {
	ctx := cmd.Context()

	args, err := runArgs(s)
	if err != nil {
		return err
	}
	script, err := filepath.Abs(s.Script)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", s.Script, err)
	}

	a, err := newApp(s)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("Failed to shut down cleanly")
		}
	}()

	var opts []engine.Option
	if s.History.Enabled {
		store, err := a.openHistory(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithObserver(stores.NewRecorder(store, script, a.logger)))
	}
	if paths := s.PolicyPaths(); len(paths) > 0 {
		gate, err := policy.Load(ctx, paths, a.logger)
		if err != nil {
			return err
		}
		a.logger.Info().Int("policies", gate.Len()).Msg("Policy gate enabled")
		opts = append(opts, engine.WithGate(gate))
	}
	eng := a.engine(opts...)

	once := func(ctx context.Context) error {
		data, err := os.ReadFile(script)
		if err != nil {
			return fmt.Errorf("failed to read instruction file: %w", err)
		}

		report, runErr := eng.Run(ctx, string(data), args)
		if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
		if runErr != nil {
			return runErr
		}
		if !report.Success {
			return fmt.Errorf("run %s failed", report.RunID)
		}
		return nil
	}

	if !watch {
		return once(ctx)
	}

	w := &scriptWatcher{path: script, logger: a.logger}
	return w.Watch(ctx, once)
}
